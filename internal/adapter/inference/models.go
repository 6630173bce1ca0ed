package inference

import (
	"strings"

	"github.com/talentsift/screener/internal/domain"
)

// ModelAvailable reports whether model is served by client, matching either
// the full name or its tag-less prefix ("mistral" for "mistral:7b").
func ModelAvailable(ctx domain.Context, client domain.InferenceClient, model string) (bool, error) {
	names, err := client.Models(ctx)
	if err != nil {
		return false, err
	}
	prefix := strings.SplitN(model, ":", 2)[0]
	for _, n := range names {
		if n == model || n == prefix {
			return true, nil
		}
	}
	return false, nil
}
