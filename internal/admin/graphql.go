package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/orgware/owconnect/internal/common"
)

// graphqlError is one entry of the errors list of a gateway response.
type graphqlError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

func (e graphqlError) Error() string {
	return fmt.Sprintf("%s: %s", e.Extensions.Code, e.Message)
}

// graphql posts one operation to the gateway and decodes data into out.
func (a *App) graphql(ctx context.Context, query string, vars map[string]any, out any) error {
	b, err := json.Marshal(map[string]any{"query": query, "variables": vars})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.GatewayURL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.accessToken != "" {
		req.Header.Set("Authorization", common.BearerPrefix+a.accessToken)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var body struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphqlError  `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode gateway response (%s): %w", resp.Status, err)
	}
	if len(body.Errors) > 0 {
		return body.Errors[0]
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body.Data, out)
}
