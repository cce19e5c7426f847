// Package adminsocket implements the local administrative HTTP surface: a
// gorilla/mux router served over a Unix domain socket for listing, viewing,
// and editing users.
package adminsocket

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/taedryn/mesh-citadel/internal/permission"
	"github.com/taedryn/mesh-citadel/internal/store"
)

// Server exposes user administrative queries over a Unix domain socket.
type Server struct {
	SocketPath string
	Users      store.Users
	DB         store.DB

	router     *mux.Router
	httpServer *http.Server
}

func New(socketPath string, users store.Users, db store.DB) *Server {
	s := &Server{SocketPath: socketPath, Users: users, DB: db, router: mux.NewRouter()}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/users", s.handleListUsers).Methods("GET")
	api.HandleFunc("/users/{username}", s.handleGetUser).Methods("GET")
	api.HandleFunc("/users/{username}", s.handleEditUser).Methods("PATCH")
}

type userView struct {
	Username        string `json:"username"`
	DisplayName     string `json:"display_name"`
	PermissionLevel string `json:"permission_level"`
	Status          string `json:"status"`
}

func toView(u *store.User) userView {
	return userView{
		Username:        u.Username,
		DisplayName:     u.DisplayName,
		PermissionLevel: u.PermissionLevel.String(),
		Status:          string(u.Status),
	}
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	rows, err := s.DB.Execute(r.Context(),
		`SELECT username FROM users ORDER BY username COLLATE NOCASE`)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	views := make([]userView, 0, len(rows))
	for _, row := range rows {
		username, _ := row[0].(string)
		user, err := s.Users.Load(r.Context(), username)
		if err != nil || user == nil {
			continue
		}
		views = append(views, toView(user))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]
	user, err := s.Users.Load(r.Context(), username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, toView(user))
}

type editUserRequest struct {
	DisplayName     *string `json:"display_name"`
	PermissionLevel *int    `json:"permission_level"`
}

func (s *Server) handleEditUser(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]
	user, err := s.Users.Load(r.Context(), username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	var req editUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.DisplayName == nil && req.PermissionLevel == nil {
		writeError(w, http.StatusBadRequest, "no changes specified")
		return
	}

	if req.DisplayName != nil {
		if err := s.Users.SetDisplayName(r.Context(), username, *req.DisplayName); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	if req.PermissionLevel != nil {
		level := permission.Level(*req.PermissionLevel)
		if level < permission.Unverified || level > permission.Sysop {
			writeError(w, http.StatusBadRequest, "permission_level out of range")
			return
		}
		if err := s.Users.SetPermissionLevel(r.Context(), username, level); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	updated, err := s.Users.Load(r.Context(), username)
	if err != nil || updated == nil {
		writeError(w, http.StatusInternalServerError, "failed to reload user after edit")
		return
	}
	writeJSON(w, http.StatusOK, toView(updated))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Debugf("adminsocket: %s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

// Run listens on the Unix socket at SocketPath until ctx is canceled,
// removing any stale socket file left behind by a previous run.
func (s *Server) Run(ctx context.Context) error {
	_ = os.Remove(s.SocketPath)
	listener, err := net.Listen("unix", s.SocketPath)
	if err != nil {
		return err
	}

	s.router.Use(loggingMiddleware)
	s.httpServer = &http.Server{Handler: s.router}

	go func() {
		<-ctx.Done()
		log.Info("adminsocket: context done, shutting down")
		_ = s.httpServer.Shutdown(context.Background())
	}()

	log.Infof("adminsocket: listening on %s", s.SocketPath)
	err = s.httpServer.Serve(listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
