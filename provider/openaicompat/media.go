package openaicompat

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	cloudgpt "github.com/CloudCompile/cloudgptapi-sub000"
)

const maxInlineImageBytes = 20 << 20

type imageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n,omitempty"`
	Size           string `json:"size,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
}

type embeddingRequest struct {
	Model          string          `json:"model"`
	Input          json.RawMessage `json:"input"`
	EncodingFormat string          `json:"encoding_format,omitempty"`
	Dimensions     *int            `json:"dimensions,omitempty"`
}

// GenerateImage creates images either through the query-string image host or
// the standard /images/generations endpoint.
func (p *Provider) GenerateImage(ctx context.Context, req cloudgpt.MediaProviderRequest) (cloudgpt.MediaResponse, error) {
	if p.queryImages {
		return p.generateByURL(ctx, req, req.ResponseFormat == "b64_json")
	}

	size := req.Size
	if size == "" {
		if w, h := req.Dimensions(); w > 0 {
			size = fmt.Sprintf("%dx%d", w, h)
		}
	}
	httpResp, err := p.post(ctx, req.Auth, "/images/generations", imageRequest{
		Model:          req.Model,
		Prompt:         req.Prompt,
		N:              req.N,
		Size:           size,
		ResponseFormat: req.ResponseFormat,
	})
	if err != nil {
		return cloudgpt.MediaResponse{}, err
	}
	defer httpResp.Body.Close()

	var resp cloudgpt.MediaResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return cloudgpt.MediaResponse{}, fmt.Errorf("%w: %s: decode image response: %v", cloudgpt.ErrProviderUnavailable, p.name, err)
	}
	if len(resp.Data) == 0 {
		return cloudgpt.MediaResponse{}, fmt.Errorf("%w: %s: no images in response", cloudgpt.ErrProviderUnavailable, p.name)
	}
	return resp, nil
}

// GenerateVideo is only available on query-string hosts.
func (p *Provider) GenerateVideo(ctx context.Context, req cloudgpt.MediaProviderRequest) (cloudgpt.MediaResponse, error) {
	if !p.queryImages {
		return cloudgpt.MediaResponse{}, fmt.Errorf("%w: %s has no video endpoint", cloudgpt.ErrUnsupported, p.name)
	}
	return p.generateByURL(ctx, req, false)
}

// generateByURL requests the asset so generation errors surface as upstream
// statuses, then returns its public URL (without credentials) or the bytes.
func (p *Provider) generateByURL(ctx context.Context, req cloudgpt.MediaProviderRequest, inline bool) (cloudgpt.MediaResponse, error) {
	if p.imageBaseURL == "" {
		return cloudgpt.MediaResponse{}, fmt.Errorf("%w: %s has no image host", cloudgpt.ErrProviderMisconfigured, p.name)
	}
	assetURL := p.assetURL(req)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return cloudgpt.MediaResponse{}, fmt.Errorf("cloudgpt: create request: %w", err)
	}
	p.authorize(httpReq, req.Auth)

	httpResp, err := p.do(httpReq)
	if err != nil {
		return cloudgpt.MediaResponse{}, err
	}
	defer httpResp.Body.Close()

	var data cloudgpt.MediaData
	if inline {
		raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxInlineImageBytes))
		if err != nil {
			return cloudgpt.MediaResponse{}, cloudgpt.TransportError(p.name, err)
		}
		data.B64JSON = base64.StdEncoding.EncodeToString(raw)
	} else {
		if _, err := io.Copy(io.Discard, httpResp.Body); err != nil {
			return cloudgpt.MediaResponse{}, cloudgpt.TransportError(p.name, err)
		}
		data.URL = assetURL
	}

	return cloudgpt.MediaResponse{Data: []cloudgpt.MediaData{data}}, nil
}

func (p *Provider) assetURL(req cloudgpt.MediaProviderRequest) string {
	q := url.Values{}
	q.Set("model", req.Model)
	q.Set("nologo", "true")
	if w, h := req.Dimensions(); w > 0 && h > 0 {
		q.Set("width", strconv.Itoa(w))
		q.Set("height", strconv.Itoa(h))
	}
	if req.Seed != nil {
		q.Set("seed", strconv.FormatInt(*req.Seed, 10))
	}
	if req.NegativePrompt != "" {
		q.Set("negative_prompt", req.NegativePrompt)
	}
	if req.ImageURL != "" {
		q.Set("image", req.ImageURL)
	}
	if req.Duration > 0 {
		q.Set("duration", strconv.Itoa(req.Duration))
	}
	return p.imageBaseURL + "/prompt/" + url.PathEscape(req.Prompt) + "?" + q.Encode()
}

// CreateEmbedding calls /embeddings.
func (p *Provider) CreateEmbedding(ctx context.Context, req cloudgpt.EmbeddingProviderRequest) (cloudgpt.EmbeddingResponse, error) {
	if !p.embeddings {
		return cloudgpt.EmbeddingResponse{}, fmt.Errorf("%w: %s has no embeddings endpoint", cloudgpt.ErrUnsupported, p.name)
	}

	httpResp, err := p.post(ctx, req.Auth, "/embeddings", embeddingRequest{
		Model:          req.Model,
		Input:          req.Input,
		EncodingFormat: req.EncodingFormat,
		Dimensions:     req.Dimensions,
	})
	if err != nil {
		return cloudgpt.EmbeddingResponse{}, err
	}
	defer httpResp.Body.Close()

	var resp cloudgpt.EmbeddingResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return cloudgpt.EmbeddingResponse{}, fmt.Errorf("%w: %s: decode embeddings: %v", cloudgpt.ErrProviderUnavailable, p.name, err)
	}
	return resp, nil
}
