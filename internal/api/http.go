package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
)

func getJSON[Resp any](ctx context.Context, httpClient *http.Client, url string, token string) (*Resp, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	setAuth(req, token)
	return finishRequest[Resp](httpClient, req)
}

func postJSON[Req any, Resp any](ctx context.Context, httpClient *http.Client, url string,
	token string, body *Req) (*Resp, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	setAuth(req, token)
	return finishRequest[Resp](httpClient, req)
}

func setAuth(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "CraterToken "+token)
	}
}

func finishRequest[Resp any](httpClient *http.Client, req *http.Request) (*Resp, error) {
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var env Envelope[Resp]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, err
	}
	if env.Status != EnvelopeSuccess {
		return nil, statusErr(env)
	}
	return &env.Result, nil
}

// ReplyJSON writes a success envelope.
func ReplyJSON[T any](w http.ResponseWriter, resp T) {
	writeEnvelope(w, http.StatusOK, Envelope[T]{Status: EnvelopeSuccess, Result: resp})
}

// ReplyError writes a failure envelope with the right HTTP status for code.
func ReplyError(w http.ResponseWriter, status EnvelopeStatus, err error) {
	code := http.StatusInternalServerError
	switch status {
	case EnvelopeUnauthorized:
		code = http.StatusForbidden
	case EnvelopeNotFound:
		code = http.StatusNotFound
	}
	writeEnvelope(w, code, Envelope[any]{Status: status, Error: err.Error()})
}

func writeEnvelope[T any](w http.ResponseWriter, httpStatus int, env Envelope[T]) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		// The body is already partially written; nothing more we can do but log on the caller's side.
		return
	}
}

// ParseJSON decodes a POST body into T, writing an error envelope and
// returning nil on failure.
func ParseJSON[T any](w http.ResponseWriter, r *http.Request) *T {
	if r.Method != http.MethodPost {
		ReplyError(w, EnvelopeInternalError, errMethodNotAllowed)
		return nil
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		ReplyError(w, EnvelopeInternalError, err)
		return nil
	}
	var data T
	if err := json.Unmarshal(body, &data); err != nil {
		ReplyError(w, EnvelopeInternalError, err)
		return nil
	}
	return &data
}
