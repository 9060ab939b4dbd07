package cloudgpt_test

import (
	"sync"
	"testing"

	cloudgpt "github.com/CloudCompile/cloudgptapi-sub000"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(creds []cloudgpt.Credential) []string {
	out := make([]string, len(creds))
	for i, c := range creds {
		out[i] = c.ID
	}
	return out
}

func TestCredentialPool_Rotates(t *testing.T) {
	p := cloudgpt.NewCredentialPool("a", "", "b", "c")
	require.Equal(t, 3, p.Len())

	assert.Equal(t, []string{"key-1", "key-2", "key-3"}, ids(p.Sequence()))
	assert.Equal(t, []string{"key-2", "key-3", "key-1"}, ids(p.Sequence()))
	assert.Equal(t, []string{"key-3", "key-1", "key-2"}, ids(p.Sequence()))
	assert.Equal(t, "a", p.Sequence()[0].Key)
}

func TestCredentialPool_Empty(t *testing.T) {
	var nilPool *cloudgpt.CredentialPool
	for _, p := range []*cloudgpt.CredentialPool{nilPool, cloudgpt.NewCredentialPool()} {
		seq := p.Sequence()
		require.Len(t, seq, 1)
		assert.Equal(t, "anonymous", seq[0].ID)
		assert.Empty(t, seq[0].Key)
	}
}

func TestCredentialPool_ConcurrentSequencesAreComplete(t *testing.T) {
	p := cloudgpt.NewCredentialPool("a", "b", "c", "d")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen := make(map[string]bool)
			for _, c := range p.Sequence() {
				seen[c.ID] = true
			}
			assert.Len(t, seen, 4)
		}()
	}
	wg.Wait()
}
