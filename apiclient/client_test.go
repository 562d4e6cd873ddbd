package apiclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

func TestUnauthorizedCarriesAuthTag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"token expired"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Get(context.Background(), "/api/attivita", "stale")
	if err == nil {
		t.Fatal("expected an error for status 401")
	}
	if !IsAuthError(err) {
		t.Fatal("401 must carry the auth tag")
	}
	if got := StatusOf(err); got != http.StatusUnauthorized {
		t.Fatalf("StatusOf = %d, want 401", got)
	}
}

func TestServerErrorHasNoAuthTag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Get(context.Background(), "/api/attivita", "")
	if err == nil {
		t.Fatal("expected an error for status 500")
	}
	if IsAuthError(err) {
		t.Fatal("500 must not carry the auth tag")
	}

	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T, want *Error", err)
	}
	body, ok := apiErr.Body.(map[string]any)
	if !ok {
		t.Fatalf("error body type = %T, want map", apiErr.Body)
	}
	if body["detail"] != "boom" {
		t.Fatalf("detail = %v, want text excerpt", body["detail"])
	}
}

func TestSuccessUnwrapsDataField(t *testing.T) {
	tests := []struct {
		name string
		body string
		want any
	}{
		{
			name: "wrapped payload",
			body: `{"data":[1,2,3]}`,
			want: []any{float64(1), float64(2), float64(3)},
		},
		{
			name: "bare payload",
			body: `{"id":1}`,
			want: map[string]any{"id": float64(1)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			got, err := New(srv.URL).Get(context.Background(), "/api/mezzi", "")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("payload = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestNoContentReturnsEmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	got, err := New(srv.URL).Delete(context.Background(), "/api/documenti/7", "t")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("payload = %#v, want nil", got)
	}
}

func TestNetworkFailureHasStatusZero(t *testing.T) {
	// A closed server guarantees a connection error without a response.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := New(srv.URL).Get(context.Background(), "/api/profile", "")
	if err == nil {
		t.Fatal("expected a transport error")
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if apiErr.Status != 0 {
		t.Fatalf("status = %d, want 0 for network failure", apiErr.Status)
	}
	if !errors.Is(err, ErrUnreachable) {
		t.Fatal("network failure must wrap ErrUnreachable")
	}
	if apiErr.Unwrap() == nil {
		t.Fatal("original failure must be nested inside")
	}
}

func TestBearerHeaderOnlyWhenTokenPresent(t *testing.T) {
	var sawAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	if _, err := c.Get(context.Background(), "/api/attivita", "tok"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sawAuth != "Bearer tok" {
		t.Fatalf("Authorization = %q, want bearer header", sawAuth)
	}

	if _, err := c.Get(context.Background(), "/api/attivita", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sawAuth != "" {
		t.Fatalf("Authorization = %q, want empty without token", sawAuth)
	}
}
