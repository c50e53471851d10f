// Package providertest runs an in-process fake of the identity provider's
// REST API for tests.
package providertest

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/branchd-dev/authflow/internal/config"
)

// Endpoint names accepted by FailNext, Block and Calls
const (
	SignIn   = "accounts:signInWithPassword"
	SignUp   = "accounts:signUp"
	Lookup   = "accounts:lookup"
	Update   = "accounts:update"
	SendOob  = "accounts:sendOobCode"
	Token    = "token"
	APIKey   = "test-api-key"
	MinChars = 6
)

type account struct {
	localID       string
	email         string
	password      string
	displayName   string
	emailVerified bool
	disabled      bool
}

// Server is a fake identity provider
type Server struct {
	*httptest.Server

	// TTL is the lifetime of minted ID tokens
	TTL time.Duration

	mu       sync.Mutex
	secret   []byte
	accounts map[string]*account // by email
	idTokens map[string]string   // token -> localId
	expiry   map[string]time.Time // token -> exp
	now      func() time.Time
	refresh  map[string]string   // token -> localId
	failures map[string]string
	blocks   map[string]chan struct{}
	calls    map[string]int
	oob      []string
}

// NewServer starts a fake provider that is closed when the test ends
func NewServer(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		TTL:      time.Hour,
		secret:   []byte("providertest-secret"),
		accounts: make(map[string]*account),
		idTokens: make(map[string]string),
		expiry:   make(map[string]time.Time),
		now:      time.Now,
		refresh:  make(map[string]string),
		failures: make(map[string]string),
		blocks:   make(map[string]chan struct{}),
		calls:    make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Config returns provider settings pointing at the fake
func (s *Server) Config() config.ProviderConfig {
	return config.ProviderConfig{
		APIKey:   APIKey,
		BaseURL:  s.URL,
		TokenURL: s.URL,
		Timeout:  5 * time.Second,
	}
}

// SetClock changes the time used to mint and expire ID tokens
func (s *Server) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// AddUser registers an account and returns its local id
func (s *Server) AddUser(email, password, displayName string, verified bool) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(email, password, displayName, verified).localID
}

// SetEmailVerified flips the verified flag as if the user clicked the link
func (s *Server) SetEmailVerified(email string, verified bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acct, ok := s.accounts[email]; ok {
		acct.emailVerified = verified
	}
}

// RevokeSessions invalidates every token issued for the account
func (s *Server) RevokeSessions(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[email]
	if !ok {
		return
	}
	for token, id := range s.idTokens {
		if id == acct.localID {
			delete(s.idTokens, token)
			delete(s.expiry, token)
		}
	}
	for token, id := range s.refresh {
		if id == acct.localID {
			delete(s.refresh, token)
		}
	}
}

// FailNext makes the next call to endpoint fail with the given error code
func (s *Server) FailNext(endpoint, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[endpoint] = code
}

// Block holds calls to endpoint until the returned release func is called
func (s *Server) Block(endpoint string) (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.blocks[endpoint] = ch
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.blocks, endpoint)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Calls returns how many requests reached endpoint
func (s *Server) Calls(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[endpoint]
}

// OobRequests lists sendOobCode requests as "TYPE:email"
func (s *Server) OobRequests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.oob...)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if r.URL.Query().Get("key") != APIKey {
		writeError(w, http.StatusBadRequest, "API key not valid. Please pass a valid API key.")
		return
	}

	endpoint := strings.TrimPrefix(r.URL.Path, "/v1/")

	s.mu.Lock()
	s.calls[endpoint]++
	block := s.blocks[endpoint]
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-r.Context().Done():
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if code, ok := s.failures[endpoint]; ok {
		delete(s.failures, endpoint)
		writeError(w, http.StatusBadRequest, code)
		return
	}

	switch endpoint {
	case SignIn:
		s.signIn(w, r)
	case SignUp:
		s.signUp(w, r)
	case Lookup:
		s.lookup(w, r)
	case Update:
		s.update(w, r)
	case SendOob:
		s.sendOob(w, r)
	case Token:
		s.token(w, r)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND")
	}
}

type passwordBody struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	IDToken     string `json:"idToken"`
	DisplayName string `json:"displayName"`
	RequestType string `json:"requestType"`
}

func decode(r *http.Request) (passwordBody, error) {
	var body passwordBody
	err := json.NewDecoder(r.Body).Decode(&body)
	return body, err
}

func (s *Server) signIn(w http.ResponseWriter, r *http.Request) {
	body, err := decode(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON")
		return
	}
	acct, ok := s.accounts[body.Email]
	if !ok {
		writeError(w, http.StatusBadRequest, "EMAIL_NOT_FOUND")
		return
	}
	if acct.disabled {
		writeError(w, http.StatusBadRequest, "USER_DISABLED")
		return
	}
	if acct.password != body.Password {
		writeError(w, http.StatusBadRequest, "INVALID_PASSWORD")
		return
	}
	s.writeTokens(w, acct)
}

func (s *Server) signUp(w http.ResponseWriter, r *http.Request) {
	body, err := decode(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON")
		return
	}
	if _, exists := s.accounts[body.Email]; exists {
		writeError(w, http.StatusBadRequest, "EMAIL_EXISTS")
		return
	}
	if len(body.Password) < MinChars {
		writeError(w, http.StatusBadRequest, "WEAK_PASSWORD : Password should be at least 6 characters")
		return
	}
	acct := s.addLocked(body.Email, body.Password, "", false)
	s.writeTokens(w, acct)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) {
	body, err := decode(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON")
		return
	}
	acct, code := s.accountForToken(body.IDToken)
	if acct == nil {
		writeError(w, http.StatusBadRequest, code)
		return
	}
	writeJSON(w, map[string]interface{}{
		"users": []map[string]interface{}{{
			"localId":       acct.localID,
			"email":         acct.email,
			"displayName":   acct.displayName,
			"emailVerified": acct.emailVerified,
			"disabled":      acct.disabled,
		}},
	})
}

func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	body, err := decode(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON")
		return
	}
	acct, code := s.accountForToken(body.IDToken)
	if acct == nil {
		writeError(w, http.StatusBadRequest, code)
		return
	}
	acct.displayName = body.DisplayName
	writeJSON(w, map[string]interface{}{
		"localId":     acct.localID,
		"email":       acct.email,
		"displayName": acct.displayName,
	})
}

func (s *Server) sendOob(w http.ResponseWriter, r *http.Request) {
	body, err := decode(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON")
		return
	}
	email := body.Email
	switch body.RequestType {
	case "VERIFY_EMAIL":
		acct, code := s.accountForToken(body.IDToken)
		if acct == nil {
			writeError(w, http.StatusBadRequest, code)
			return
		}
		email = acct.email
	case "PASSWORD_RESET":
		if _, ok := s.accounts[email]; !ok {
			writeError(w, http.StatusBadRequest, "EMAIL_NOT_FOUND")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "INVALID_REQ_TYPE")
		return
	}
	s.oob = append(s.oob, body.RequestType+":"+email)
	writeJSON(w, map[string]string{"email": email})
}

func (s *Server) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "refresh_token" {
		writeError(w, http.StatusBadRequest, "INVALID_GRANT_TYPE")
		return
	}
	localID, ok := s.refresh[r.PostForm.Get("refresh_token")]
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_REFRESH_TOKEN")
		return
	}
	acct := s.accountByID(localID)
	if acct == nil {
		writeError(w, http.StatusBadRequest, "USER_NOT_FOUND")
		return
	}
	if acct.disabled {
		writeError(w, http.StatusBadRequest, "USER_DISABLED")
		return
	}
	idToken := s.mintLocked(acct)
	writeJSON(w, map[string]string{
		"id_token":      idToken,
		"refresh_token": r.PostForm.Get("refresh_token"),
		"expires_in":    strconv.Itoa(int(s.TTL.Seconds())),
		"token_type":    "Bearer",
		"user_id":       acct.localID,
	})
}

func (s *Server) addLocked(email, password, displayName string, verified bool) *account {
	acct := &account{
		localID:       randomHex(14),
		email:         email,
		password:      password,
		displayName:   displayName,
		emailVerified: verified,
	}
	s.accounts[email] = acct
	return acct
}

// accountForToken resolves an ID token, or returns the error code the
// provider answers with: INVALID_ID_TOKEN when unknown or revoked,
// TOKEN_EXPIRED once past exp.
func (s *Server) accountForToken(idToken string) (*account, string) {
	localID, ok := s.idTokens[idToken]
	if !ok {
		return nil, "INVALID_ID_TOKEN"
	}
	if !s.now().Before(s.expiry[idToken]) {
		return nil, "TOKEN_EXPIRED"
	}
	acct := s.accountByID(localID)
	if acct == nil {
		return nil, "USER_NOT_FOUND"
	}
	return acct, ""
}

func (s *Server) accountByID(localID string) *account {
	for _, acct := range s.accounts {
		if acct.localID == localID {
			return acct
		}
	}
	return nil
}

func (s *Server) writeTokens(w http.ResponseWriter, acct *account) {
	idToken := s.mintLocked(acct)
	refreshToken := randomHex(32)
	s.refresh[refreshToken] = acct.localID
	writeJSON(w, map[string]interface{}{
		"localId":      acct.localID,
		"email":        acct.email,
		"displayName":  acct.displayName,
		"idToken":      idToken,
		"refreshToken": refreshToken,
		"expiresIn":    strconv.Itoa(int(s.TTL.Seconds())),
		"registered":   true,
	})
}

func (s *Server) mintLocked(acct *account) string {
	now := s.now()
	claims := jwt.MapClaims{
		"sub":            acct.localID,
		"email":          acct.email,
		"email_verified": acct.emailVerified,
		"iat":            now.Unix(),
		"exp":            now.Add(s.TTL).Unix(),
		"jti":            randomHex(8),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		panic(fmt.Sprintf("providertest: sign token: %v", err))
	}
	s.idTokens[token] = acct.localID
	s.expiry[token] = now.Add(s.TTL)
	return token
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"code":    status,
			"message": message,
		},
	})
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
