package stubserver

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/google/uuid"
)

func fail(c *gin.Context, status, code int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"code": code, "message": message})
}

func (s *Server) requireAppToken(c *gin.Context) bool {
	if c.GetHeader("app-token") != s.cfg.AppToken {
		fail(c, http.StatusUnauthorized, http.StatusUnauthorized, "invalid app token")
		return false
	}
	return true
}

// authedUser resolves the access-token header. Callers hold s.mu.
func (s *Server) authedUser(c *gin.Context) *user {
	handle, ok := s.accessTokens[c.GetHeader("access-token")]
	if !ok {
		fail(c, http.StatusUnauthorized, http.StatusUnauthorized, "invalid access token")
		return nil
	}
	return s.users[handle]
}

func profileResponse(u *user, accessToken string) gin.H {
	body := gin.H{
		"handle":      u.handle,
		"displayName": u.displayName,
	}
	if u.userName != "" {
		body["userName"] = u.userName
	}
	if u.locale != "" {
		body["locale"] = u.locale
	}
	if u.appleLinked {
		body["appleLinked"] = true
	}
	if u.googleLinked {
		body["googleLinked"] = true
	}
	if accessToken != "" {
		body["access-token"] = accessToken
	}
	return body
}

// withUserHandle injects the account handle into the user object of
// creation options, the way the real server annotates them.
func withUserHandle(options any, handle string) (map[string]any, error) {
	data, err := json.Marshal(options)
	if err != nil {
		return nil, fmt.Errorf("marshal creation options: %w", err)
	}
	m := map[string]any{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("remarshal creation options: %w", err)
	}
	if userObj, ok := m["user"].(map[string]any); ok {
		userObj["handle"] = handle
	}
	return m, nil
}

func (s *Server) getApp(c *gin.Context) {
	if !s.requireAppToken(c) {
		return
	}
	c.JSON(http.StatusOK, s.cfg.App)
}

func (s *Server) login(c *gin.Context) {
	if !s.requireAppToken(c) {
		return
	}
	var req struct {
		Handle string `json:"handle"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, http.StatusBadRequest, "malformed request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[req.Handle]
	if !ok || u.pending {
		fail(c, http.StatusUnauthorized, http.StatusUnauthorized, "invalid handle")
		return
	}
	if u.requireAddPasskey || len(u.credentials) == 0 {
		c.JSON(http.StatusOK, gin.H{"requireAddPasskey": true})
		return
	}

	options, session, err := s.wa.BeginLogin(u)
	if err != nil {
		fail(c, http.StatusInternalServerError, http.StatusInternalServerError, err.Error())
		return
	}
	s.loginSessions[u.handle] = session
	c.JSON(http.StatusOK, options.Response)
}

func (s *Server) loginComplete(c *gin.Context) {
	if !s.requireAppToken(c) {
		return
	}
	body, err := c.GetRawData()
	if err != nil {
		fail(c, http.StatusBadRequest, http.StatusBadRequest, "unreadable request body")
		return
	}
	var meta struct {
		Handle string `json:"handle"`
	}
	if err := json.Unmarshal(body, &meta); err != nil {
		fail(c, http.StatusBadRequest, http.StatusBadRequest, "malformed request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[meta.Handle]
	if !ok {
		fail(c, http.StatusUnauthorized, http.StatusUnauthorized, "invalid handle")
		return
	}
	session, ok := s.loginSessions[u.handle]
	if !ok {
		fail(c, http.StatusBadRequest, http.StatusBadRequest, "no login in progress")
		return
	}
	delete(s.loginSessions, u.handle)

	parsed, err := protocol.ParseCredentialRequestResponseBytes(body)
	if err != nil {
		fail(c, http.StatusBadRequest, http.StatusBadRequest, fmt.Sprintf("invalid assertion: %v", err))
		return
	}
	cred, err := s.wa.ValidateLogin(u, *session, parsed)
	if err != nil {
		fail(c, http.StatusUnauthorized, http.StatusUnauthorized, fmt.Sprintf("assertion rejected: %v", err))
		return
	}
	for i := range u.credentials {
		if string(u.credentials[i].ID) == string(cred.ID) {
			u.credentials[i] = *cred
		}
	}

	token, err := s.issueAccessToken(u.handle)
	if err != nil {
		fail(c, http.StatusInternalServerError, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, profileResponse(u, token))
}

func (s *Server) signup(c *gin.Context) {
	if !s.requireAppToken(c) {
		return
	}
	var req struct {
		Handle      string `json:"handle"`
		DisplayName string `json:"displayName"`
		Locale      string `json:"locale"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Handle == "" {
		fail(c, http.StatusBadRequest, http.StatusBadRequest, "malformed request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.users[req.Handle]; ok && !existing.pending {
		fail(c, http.StatusConflict, http.StatusConflict, "handle already registered")
		return
	}
	u := &user{
		handle:      req.Handle,
		displayName: req.DisplayName,
		locale:      req.Locale,
		pending:     true,
		id:          []byte(uuid.New().String()),
	}
	s.users[req.Handle] = u

	s.beginRegistration(c, u)
}

// beginRegistration starts a creation ceremony and writes the annotated
// options. Callers hold s.mu.
func (s *Server) beginRegistration(c *gin.Context, u *user) {
	options, session, err := s.wa.BeginRegistration(u)
	if err != nil {
		fail(c, http.StatusInternalServerError, http.StatusInternalServerError, err.Error())
		return
	}
	s.regSessions[u.handle] = session

	annotated, err := withUserHandle(options.Response, u.handle)
	if err != nil {
		fail(c, http.StatusInternalServerError, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, annotated)
}

// finishRegistration validates an attestation and attaches the credential.
// Callers hold s.mu.
func (s *Server) finishRegistration(c *gin.Context, u *user, body []byte) bool {
	session, ok := s.regSessions[u.handle]
	if !ok {
		fail(c, http.StatusBadRequest, http.StatusBadRequest, "no registration in progress")
		return false
	}
	delete(s.regSessions, u.handle)

	parsed, err := protocol.ParseCredentialCreationResponseBytes(body)
	if err != nil {
		fail(c, http.StatusBadRequest, http.StatusBadRequest, fmt.Sprintf("invalid attestation: %v", err))
		return false
	}
	cred, err := s.wa.CreateCredential(u, *session, parsed)
	if err != nil {
		fail(c, http.StatusBadRequest, http.StatusBadRequest, fmt.Sprintf("attestation rejected: %v", err))
		return false
	}
	u.credentials = append(u.credentials, *cred)
	return true
}

func (s *Server) signupConfirm(c *gin.Context) {
	if !s.requireAppToken(c) {
		return
	}
	body, err := c.GetRawData()
	if err != nil {
		fail(c, http.StatusBadRequest, http.StatusBadRequest, "unreadable request body")
		return
	}
	var meta struct {
		Handle string `json:"handle"`
	}
	if err := json.Unmarshal(body, &meta); err != nil {
		fail(c, http.StatusBadRequest, http.StatusBadRequest, "malformed request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[meta.Handle]
	if !ok || !u.pending {
		fail(c, http.StatusUnauthorized, http.StatusUnauthorized, "no signup in progress")
		return
	}
	if !s.finishRegistration(c, u, body) {
		return
	}

	token := uuid.New().String()
	s.signupTokens[token] = u.handle
	c.JSON(http.StatusOK, gin.H{
		"signup-token": token,
		"message":      "enter the verification code sent to " + u.handle,
	})
}

func (s *Server) signupComplete(c *gin.Context) {
	var req struct {
		Code string `json:"code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, http.StatusBadRequest, "malformed request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	signupToken := c.GetHeader("signup-token")
	handle, ok := s.signupTokens[signupToken]
	if !ok {
		fail(c, http.StatusUnauthorized, http.StatusUnauthorized, "invalid signup token")
		return
	}
	if req.Code != s.cfg.SignupCode {
		fail(c, http.StatusBadRequest, http.StatusBadRequest, "invalid verification code")
		return
	}
	delete(s.signupTokens, signupToken)

	u := s.users[handle]
	u.pending = false
	token, err := s.issueAccessToken(u.handle)
	if err != nil {
		fail(c, http.StatusInternalServerError, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, profileResponse(u, token))
}

func (s *Server) loginAnonymous(c *gin.Context) {
	if !s.requireAppToken(c) {
		return
	}
	if !s.cfg.App.AnonymousLoginEnabled {
		fail(c, http.StatusForbidden, http.StatusForbidden, "anonymous login disabled")
		return
	}
	var req struct {
		Handle string `json:"handle"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Handle == "" {
		fail(c, http.StatusBadRequest, http.StatusBadRequest, "malformed request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u := &user{
		handle:      req.Handle,
		displayName: "Anonymous",
		id:          []byte(uuid.New().String()),
	}
	s.users[req.Handle] = u

	s.beginRegistration(c, u)
}

func (s *Server) loginAnonymousComplete(c *gin.Context) {
	if !s.requireAppToken(c) {
		return
	}
	body, err := c.GetRawData()
	if err != nil {
		fail(c, http.StatusBadRequest, http.StatusBadRequest, "unreadable request body")
		return
	}
	var meta struct {
		Handle string `json:"handle"`
	}
	if err := json.Unmarshal(body, &meta); err != nil {
		fail(c, http.StatusBadRequest, http.StatusBadRequest, "malformed request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[meta.Handle]
	if !ok {
		fail(c, http.StatusUnauthorized, http.StatusUnauthorized, "invalid handle")
		return
	}
	if !s.finishRegistration(c, u, body) {
		return
	}

	token, err := s.issueAccessToken(u.handle)
	if err != nil {
		fail(c, http.StatusInternalServerError, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, profileResponse(u, token))
}

func (s *Server) addPasskey(c *gin.Context) {
	if !s.requireAppToken(c) {
		return
	}
	var req struct {
		ResetToken string `json:"access-token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, http.StatusBadRequest, "malformed request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	handle, ok := s.resetTokens[req.ResetToken]
	if !ok {
		fail(c, http.StatusUnauthorized, http.StatusUnauthorized, "invalid reset token")
		return
	}
	s.beginRegistration(c, s.users[handle])
}

func (s *Server) addPasskeyComplete(c *gin.Context) {
	if !s.requireAppToken(c) {
		return
	}
	body, err := c.GetRawData()
	if err != nil {
		fail(c, http.StatusBadRequest, http.StatusBadRequest, "unreadable request body")
		return
	}
	var meta struct {
		ResetToken string `json:"access-token"`
	}
	if err := json.Unmarshal(body, &meta); err != nil {
		fail(c, http.StatusBadRequest, http.StatusBadRequest, "malformed request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	handle, ok := s.resetTokens[meta.ResetToken]
	if !ok {
		fail(c, http.StatusUnauthorized, http.StatusUnauthorized, "invalid reset token")
		return
	}
	u := s.users[handle]
	if !s.finishRegistration(c, u, body) {
		return
	}
	u.requireAddPasskey = false
	delete(s.resetTokens, meta.ResetToken)

	c.JSON(http.StatusOK, gin.H{"message": "passkey added"})
}

func (s *Server) socialLogin(c *gin.Context) {
	if !s.requireAppToken(c) {
		return
	}
	var req struct {
		Token    string `json:"token"`
		Provider string `json:"provider"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, http.StatusBadRequest, "malformed request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	handle, ok := s.socialTokens[req.Provider+":"+req.Token]
	if !ok {
		fail(c, http.StatusForbidden, 603, "account not found")
		return
	}
	u := s.users[handle]
	token, err := s.issueAccessToken(u.handle)
	if err != nil {
		fail(c, http.StatusInternalServerError, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, profileResponse(u, token))
}

func (s *Server) socialSignup(c *gin.Context) {
	if !s.requireAppToken(c) {
		return
	}
	var req struct {
		Token       string `json:"token"`
		Provider    string `json:"provider"`
		Handle      string `json:"handle"`
		DisplayName string `json:"displayName"`
		Locale      string `json:"locale"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Handle == "" {
		fail(c, http.StatusBadRequest, http.StatusBadRequest, "malformed request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.users[req.Handle]; ok && !existing.pending {
		fail(c, http.StatusConflict, http.StatusConflict, "handle already registered")
		return
	}
	u := &user{
		handle:      req.Handle,
		displayName: req.DisplayName,
		locale:      req.Locale,
		id:          []byte(uuid.New().String()),
	}
	linkProvider(u, req.Provider)
	s.users[req.Handle] = u
	s.socialTokens[req.Provider+":"+req.Token] = req.Handle

	token, err := s.issueAccessToken(u.handle)
	if err != nil {
		fail(c, http.StatusInternalServerError, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, profileResponse(u, token))
}

func (s *Server) updateProfile(c *gin.Context) {
	var req struct {
		DisplayName string `json:"displayName"`
		Locale      string `json:"locale"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, http.StatusBadRequest, "malformed request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.authedUser(c)
	if u == nil {
		return
	}
	if req.DisplayName != "" {
		u.displayName = req.DisplayName
	}
	if req.Locale != "" {
		u.locale = req.Locale
	}
	token, err := s.issueAccessToken(u.handle)
	if err != nil {
		fail(c, http.StatusInternalServerError, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, profileResponse(u, token))
}

func (s *Server) setUsername(c *gin.Context) {
	var req struct {
		UserName string `json:"userName"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.UserName == "" {
		fail(c, http.StatusBadRequest, http.StatusBadRequest, "malformed request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.authedUser(c)
	if u == nil {
		return
	}
	for _, other := range s.users {
		if other != u && other.userName == req.UserName {
			fail(c, http.StatusConflict, http.StatusConflict, "username already taken")
			return
		}
	}
	u.userName = req.UserName
	token, err := s.issueAccessToken(u.handle)
	if err != nil {
		fail(c, http.StatusInternalServerError, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, profileResponse(u, token))
}
