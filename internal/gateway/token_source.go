package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPTokenSource получает сервисный токен у auth-эндпоинта шлюза.
type HTTPTokenSource struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewHTTPTokenSource создаёт источник токена. apiKey опционален.
func NewHTTPTokenSource(baseURL, apiKey string, hc *http.Client) *HTTPTokenSource {
	if hc == nil {
		hc = &http.Client{Timeout: DefaultTimeout}
	}
	return &HTTPTokenSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    hc,
	}
}

type tokenResponse struct {
	Token string `json:"token"`
}

// FetchToken выполняет GET /auth/service-token.
func (s *HTTPTokenSource) FetchToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/auth/service-token", nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch service token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
		return "", fmt.Errorf("fetch service token: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode service token: %w", err)
	}
	return payload.Token, nil
}
