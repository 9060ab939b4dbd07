package horde

import (
	"context"
	"fmt"
	"strconv"
	"time"

	cloudgpt "github.com/CloudCompile/cloudgptapi-sub000"
)

type imageParams struct {
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Seed   string `json:"seed,omitempty"`
	N      int    `json:"n,omitempty"`
}

type imageSubmit struct {
	Prompt           string      `json:"prompt"`
	Params           imageParams `json:"params"`
	Models           []string    `json:"models,omitempty"`
	SourceImage      string      `json:"source_image,omitempty"`
	SourceMask       string      `json:"source_mask,omitempty"`
	SourceProcessing string      `json:"source_processing,omitempty"`
	R2               bool        `json:"r2"`
}

type imageCheck struct {
	Done       bool `json:"done"`
	Faulted    bool `json:"faulted"`
	IsPossible bool `json:"is_possible"`
}

type imageStatus struct {
	Faulted     bool `json:"faulted"`
	Generations []struct {
		Img  string `json:"img"`
		Seed string `json:"seed"`
	} `json:"generations"`
}

// GenerateImage submits an image job, polls the lightweight check endpoint
// and fetches the finished generations. Inpainting is used when a mask is
// given.
func (p *Provider) GenerateImage(ctx context.Context, req cloudgpt.MediaProviderRequest) (cloudgpt.MediaResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, p.imageDeadline)
	defer cancel()

	prompt := req.Prompt
	if req.NegativePrompt != "" {
		prompt += " ### " + req.NegativePrompt
	}
	w, h := req.Dimensions()
	submit := imageSubmit{
		Prompt: prompt,
		Params: imageParams{Width: roundTo64(w), Height: roundTo64(h), N: req.N},
		Models: models(req.Model),
		R2:     true,
	}
	if req.Seed != nil {
		submit.Params.Seed = strconv.FormatInt(*req.Seed, 10)
	}
	if req.ImageURL != "" {
		submit.SourceImage = req.ImageURL
		submit.SourceProcessing = "img2img"
	}
	if req.MaskURL != "" {
		submit.SourceMask = req.MaskURL
		submit.SourceProcessing = "inpainting"
	}

	id, err := p.submit(ctx, req.Auth, "/generate/async", submit)
	if err != nil {
		return cloudgpt.MediaResponse{}, err
	}

	err = p.poll(ctx, p.imageDeadline, func(ctx context.Context) (bool, error) {
		var check imageCheck
		if err := p.getJSON(ctx, req.Auth, "/generate/check/"+id, &check); err != nil {
			return false, err
		}
		return p.terminal(check.Done, check.Faulted, check.IsPossible)
	})
	if err != nil {
		p.cancelJob(req.Auth, "/generate/status/"+id)
		return cloudgpt.MediaResponse{}, err
	}

	var status imageStatus
	if err := p.getJSON(ctx, req.Auth, "/generate/status/"+id, &status); err != nil {
		return cloudgpt.MediaResponse{}, err
	}
	if status.Faulted {
		return cloudgpt.MediaResponse{}, fmt.Errorf("%w: %s: generation faulted", cloudgpt.ErrProviderUnavailable, p.name)
	}
	if len(status.Generations) == 0 {
		return cloudgpt.MediaResponse{}, fmt.Errorf("%w: %s: job %s finished without images", cloudgpt.ErrProviderUnavailable, p.name, id)
	}

	out := cloudgpt.MediaResponse{Created: time.Now().Unix()}
	for _, g := range status.Generations {
		out.Data = append(out.Data, cloudgpt.MediaData{URL: g.Img})
	}
	return out, nil
}

// The network only accepts multiples of 64.
func roundTo64(v int) int {
	if v <= 0 {
		return 0
	}
	r := (v + 32) / 64 * 64
	if r < 64 {
		return 64
	}
	return r
}
