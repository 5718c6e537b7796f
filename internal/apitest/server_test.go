package apitest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"testing"
	"time"

	"storefront/internal/user/domain"
)

func post(t *testing.T, c *http.Client, url, bearer string, body any) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func newJarClient(t *testing.T) *http.Client {
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return &http.Client{Jar: jar, Timeout: 5 * time.Second}
}

func TestRegistrationFlow(t *testing.T) {
	srv := NewServer(Options{MintAccess: Sequence("tok1", "tok2"), FixedOTP: "123456"})
	defer srv.Close()
	c := newJarClient(t)

	resp := post(t, c, srv.BaseURL()+"/auth/register/phone", "", map[string]string{"phone": "+919876543210"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register status = %d, want 200", resp.StatusCode)
	}
	if code, ok := srv.OTP(PurposeRegister, "+919876543210"); !ok || code != "123456" {
		t.Fatalf("OTP = %q, %v", code, ok)
	}

	resp = post(t, c, srv.BaseURL()+"/auth/register/phone/verify", "", map[string]string{"phone": "+919876543210", "code": "123456"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("verify status = %d, want 201", resp.StatusCode)
	}
	var out struct {
		AccessToken string      `json:"accessToken"`
		User        domain.User `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.AccessToken != "tok1" || out.User.ID != "u1" {
		t.Errorf("got token %q user %q, want tok1 u1", out.AccessToken, out.User.ID)
	}
	if !out.User.IsPhoneVerified || out.User.IsEmailVerified {
		t.Errorf("verification flags = phone %v email %v", out.User.IsPhoneVerified, out.User.IsEmailVerified)
	}

	// The refresh cookie landed in the jar and rotates.
	resp = post(t, c, srv.BaseURL()+"/auth/token/refresh", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh status = %d, want 200", resp.StatusCode)
	}
	var ref struct {
		AccessToken string `json:"accessToken"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&ref)
	if ref.AccessToken != "tok2" {
		t.Errorf("refreshed token = %q, want tok2", ref.AccessToken)
	}
	if got := srv.Calls("/auth/token/refresh"); got != 1 {
		t.Errorf("refresh calls = %d, want 1", got)
	}
}

func TestWrongOTPRejected(t *testing.T) {
	srv := NewServer(Options{FixedOTP: "111111"})
	defer srv.Close()
	c := newJarClient(t)
	post(t, c, srv.BaseURL()+"/auth/register/phone", "", map[string]string{"phone": "+1"})
	resp := post(t, c, srv.BaseURL()+"/auth/register/phone/verify", "", map[string]string{"phone": "+1", "code": "000000"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body["message"] != "Invalid or expired OTP" {
		t.Errorf("message = %v", body["message"])
	}
	if body["errorId"] == "" || body["timestamp"] == "" {
		t.Errorf("error envelope incomplete: %v", body)
	}
}

func TestJWTAccessAndExpiry(t *testing.T) {
	srv := NewServer(Options{})
	defer srv.Close()
	u := srv.SeedUser(domain.User{Phone: "+2", FirstName: "Ada"})
	tok := srv.IssueAccess(u.ID)

	req, _ := http.NewRequest(http.MethodGet, srv.BaseURL()+"/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /users/me: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	srv.ExpireAccess(tok)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /users/me: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status after expiry = %d, want 401", resp.StatusCode)
	}
}

func TestRefreshFailureAndLogout(t *testing.T) {
	srv := NewServer(Options{})
	defer srv.Close()
	u := srv.SeedUser(domain.User{Phone: "+3"})
	c := newJarClient(t)
	cookie := srv.IssueRefresh(u.ID)

	req, _ := http.NewRequest(http.MethodPost, srv.BaseURL()+"/auth/token/refresh", nil)
	req.AddCookie(cookie)
	srv.SetRefreshFailure(true)
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	srv.SetRefreshFailure(false)
	req, _ = http.NewRequest(http.MethodPost, srv.BaseURL()+"/auth/logout", nil)
	req.AddCookie(cookie)
	resp, err = c.Do(req)
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	resp.Body.Close()

	req, _ = http.NewRequest(http.MethodPost, srv.BaseURL()+"/auth/token/refresh", nil)
	req.AddCookie(cookie)
	resp, err = c.Do(req)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("refresh after logout = %d, want 401", resp.StatusCode)
	}
}

func TestEmailVerification(t *testing.T) {
	srv := NewServer(Options{})
	defer srv.Close()
	u := srv.SeedUser(domain.User{Phone: "+4", IsPhoneVerified: true})
	tok := srv.IssueAccess(u.ID)
	c := newJarClient(t)

	resp := post(t, c, srv.BaseURL()+"/auth/profile/complete", tok, map[string]string{
		"firstName": "Ada", "lastName": "Lovelace", "email": "ada@example.com",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("profile status = %d", resp.StatusCode)
	}
	link := srv.EmailToken(u.ID)
	if link == "" {
		t.Fatal("no verification token mailed")
	}
	resp = post(t, c, srv.BaseURL()+"/auth/verify-email", "", map[string]string{"token": link})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify-email status = %d", resp.StatusCode)
	}
	if !srv.User(u.ID).IsEmailVerified {
		t.Error("email not marked verified")
	}
	resp = post(t, c, srv.BaseURL()+"/auth/verify-email", "", map[string]string{"token": link})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("reused token status = %d, want 400", resp.StatusCode)
	}
}

func TestExtractBearer(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Bearer abc", "abc"},
		{"bearer  abc ", "abc"},
		{"Basic abc", ""},
		{"", ""},
		{"Bearer", ""},
	}
	for _, tt := range tests {
		if got := extractBearer(tt.in); got != tt.want {
			t.Errorf("extractBearer(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
