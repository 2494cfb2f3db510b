package docserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

var (
	ErrEmailRequired      = errors.New("email is required")
	ErrPasswordTooShort   = errors.New("password must be at least 6 characters")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already taken")
)

const (
	minPasswordLength = 6
	maxBodyBytes      = 1 << 20
)

// Options configures a Server.
type Options struct {
	JWTSecret string
	JWTExpiry time.Duration
	// AuthRPS and AuthBurst rate limit the auth endpoints per client IP.
	AuthRPS   float64
	AuthBurst int
	Logger    *slog.Logger
	// Clock supplies document timestamps; defaults to time.Now.
	Clock func() time.Time
}

// Server is the document collection HTTP API.
type Server struct {
	store Store
	opts  Options
	log   *slog.Logger
	hub   *hub
	now   func() time.Time
}

// NewServer creates a Server over store.
func NewServer(store Store, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.JWTExpiry <= 0 {
		opts.JWTExpiry = 24 * time.Hour
	}
	if opts.AuthRPS <= 0 {
		opts.AuthRPS = 5
	}
	if opts.AuthBurst <= 0 {
		opts.AuthBurst = 10
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Server{
		store: store,
		opts:  opts,
		log:   opts.Logger,
		hub:   newHub(opts.Logger),
		now:   now,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(s.log))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(RateLimit(s.opts.AuthRPS, s.opts.AuthBurst))
		r.Post("/api/v1/auth/register", s.handleRegister)
		r.Post("/api/v1/auth/login", s.handleLogin)
	})

	r.Route("/api/v1/collections/{collection}", func(r chi.Router) {
		r.Use(OptionalAuth(s.opts.JWTSecret))
		r.Get("/documents", s.handleList)
		r.Post("/documents", s.handleCreate)
		r.Patch("/documents/{id}", s.handleUpdate)
		r.Delete("/documents/{id}", s.handleDelete)
		r.Get("/subscribe", s.handleSubscribe)
	})
	return r
}

// Close disconnects all subscribers. The store is left open.
func (s *Server) Close() {
	s.hub.closeAll()
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type authResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse("request body too large"))
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return false
	}
	return true
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	switch {
	case req.Email == "":
		writeJSON(w, http.StatusBadRequest, errorResponse(ErrEmailRequired.Error()))
		return
	case len(req.Password) < minPasswordLength:
		writeJSON(w, http.StatusBadRequest, errorResponse(ErrPasswordTooShort.Error()))
		return
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		s.internalError(w, "hashing password", err)
		return
	}
	user := User{ID: uuid.New().String(), Email: req.Email, AuthHash: hash, CreatedAt: s.now()}
	if err := s.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			writeJSON(w, http.StatusConflict, errorResponse(ErrEmailTaken.Error()))
			return
		}
		s.internalError(w, "creating user", err)
		return
	}
	s.writeAuth(w, http.StatusCreated, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user, err := s.store.UserByEmail(r.Context(), strings.TrimSpace(req.Email))
	if errors.Is(err, ErrUserNotFound) {
		writeJSON(w, http.StatusUnauthorized, errorResponse(ErrInvalidCredentials.Error()))
		return
	}
	if err != nil {
		s.internalError(w, "loading user", err)
		return
	}
	ok, err := VerifyPassword(req.Password, user.AuthHash)
	if err != nil {
		s.internalError(w, "verifying password", err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse(ErrInvalidCredentials.Error()))
		return
	}
	s.writeAuth(w, http.StatusOK, user)
}

func (s *Server) writeAuth(w http.ResponseWriter, status int, user User) {
	token, err := GenerateToken(user, s.opts.JWTSecret, s.opts.JWTExpiry)
	if err != nil {
		s.internalError(w, "signing token", err)
		return
	}
	writeJSON(w, status, authResponse{Token: token, User: userResponse{ID: user.ID, Email: user.Email}})
}

func (s *Server) snapshot(collection string) func(context.Context) ([]Document, error) {
	return func(ctx context.Context) ([]Document, error) {
		return s.store.ListDocuments(ctx, collection)
	}
}

// notify publishes the collection to subscribers after a committed change.
func (s *Server) notify(r *http.Request, collection string) {
	s.hub.publish(context.WithoutCancel(r.Context()), collection, s.snapshot(collection))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.ListDocuments(r.Context(), chi.URLParam(r, "collection"))
	if err != nil {
		s.internalError(w, "listing documents", err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	var fields map[string]any
	if !decodeBody(w, r, &fields) {
		return
	}
	doc := Document{
		ID:        uuid.New().String(),
		Owner:     OwnerFromContext(r.Context()),
		Timestamp: s.now().UTC(),
		Fields:    stripReserved(fields),
	}
	if err := s.store.CreateDocument(r.Context(), collection, doc); err != nil {
		s.internalError(w, "creating document", err)
		return
	}
	s.notify(r, collection)
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	collection, id := chi.URLParam(r, "collection"), chi.URLParam(r, "id")
	var fields map[string]any
	if !decodeBody(w, r, &fields) {
		return
	}
	doc, err := s.store.UpdateDocument(r.Context(), collection, id, stripReserved(fields), s.now().UTC())
	if errors.Is(err, ErrDocumentNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse("document not found"))
		return
	}
	if err != nil {
		s.internalError(w, "updating document", err)
		return
	}
	s.notify(r, collection)
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	collection, id := chi.URLParam(r, "collection"), chi.URLParam(r, "id")
	err := s.store.DeleteDocument(r.Context(), collection, id)
	if errors.Is(err, ErrDocumentNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse("document not found"))
		return
	}
	if err != nil {
		s.internalError(w, "deleting document", err)
		return
	}
	s.notify(r, collection)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	if err := s.hub.join(r.Context(), collection, conn, s.snapshot(collection)); err != nil {
		s.log.Warn("sending initial snapshot failed", "collection", collection, "error", err)
		_ = conn.Close(websocket.StatusInternalError, "snapshot failed")
		return
	}
	defer s.hub.leave(collection, conn)

	// Subscribers never send data; reading only detects the disconnect.
	for {
		if _, _, err := conn.Read(context.Background()); err != nil {
			return
		}
	}
}

// Subscribers returns the number of open feeds on collection.
func (s *Server) Subscribers(collection string) int {
	return s.hub.count(collection)
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.log.Error(op, "error", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
}
