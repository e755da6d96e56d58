// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package openai

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
)

// ListModels returns the model identifiers served by an OpenAI-compatible host.
// host must include the /v1 suffix (see ai.Config.Normalize).
func ListModels(ctx context.Context, host, token string, timeout time.Duration) ([]string, error) {
	cfg := goopenai.DefaultConfig(token)
	cfg.BaseURL = host
	cfg.HTTPClient = &http.Client{Timeout: timeout}

	client := goopenai.NewClientWithConfig(cfg)
	list, err := client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing models at %s: %w", host, err)
	}

	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	slices.Sort(ids)
	return ids, nil
}

// HasModel reports whether model is in ids. Ollama reports tagged names
// ("all-minilm:latest"), so an untagged model matches its ":latest" form.
func HasModel(ids []string, model string) bool {
	return slices.Contains(ids, model) || slices.Contains(ids, model+":latest")
}
