// Package server wires the webhook endpoint and the downstream read surface
// over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/hubwatch/hubwatch/internal/ci"
	"github.com/hubwatch/hubwatch/internal/db"
	"github.com/hubwatch/hubwatch/internal/models"
	"github.com/hubwatch/hubwatch/internal/sync"
	"github.com/hubwatch/hubwatch/internal/webhook"
)

// Server holds the HTTP handler set.
type Server struct {
	db         *db.DB
	router     *webhook.Router
	syncer     *sync.Syncer
	aggregator *ci.Aggregator
	mux        *http.ServeMux
}

// IssueDetail is the read surface for one mirrored issue: the entity plus
// the read-side computed fields the dashboard layer consumes.
type IssueDetail struct {
	Issue                models.Issue           `json:"issue"`
	Comments             []models.Comment       `json:"comments"`
	Reviews              []models.Review        `json:"reviews,omitempty"`
	ReviewComments       []models.ReviewComment `json:"reviewComments,omitempty"`
	CIStatuses           []ci.StatusEntry       `json:"ciStatuses,omitempty"`
	CIPassing            bool                   `json:"ciPassing"`
	LinkedPRs            []models.Issue         `json:"linkedPrs,omitempty"`
	LinkedIssues         []models.Issue         `json:"linkedIssues,omitempty"`
	HasMaintainerComment bool                   `json:"hasMaintainerComment"`
}

// New creates a server.
func New(database *db.DB, router *webhook.Router, syncer *sync.Syncer, aggregator *ci.Aggregator) *Server {
	s := &Server{
		db:         database,
		router:     router,
		syncer:     syncer,
		aggregator: aggregator,
		mux:        http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("POST /webhook", router)
	s.mux.HandleFunc("GET /repos/{owner}/{repo}/issues/{number}", s.handleGetIssue)
	s.mux.HandleFunc("GET /users/{id}/notifications", s.handleListNotifications)

	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe runs the server on addr until it fails.
func (s *Server) ListenAndServe(addr string) error {
	log.Printf("Server starting on %s", addr)
	return http.ListenAndServe(addr, s.mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// handleGetIssue is the stale-read path: it serves the mirrored snapshot,
// fetching history synchronously for never-synced issues and kicking off a
// background refresh for stale ones. A failed fetch falls back to whatever
// is cached rather than failing the request.
func (s *Server) handleGetIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	fullName := r.PathValue("owner") + "/" + r.PathValue("repo")

	number, err := strconv.Atoi(r.PathValue("number"))
	if err != nil {
		http.Error(w, "invalid issue number", http.StatusBadRequest)
		return
	}

	repo, err := s.db.GetRepositoryByFullName(ctx, fullName)
	if err != nil {
		s.respondLookupError(w, err)
		return
	}
	issue, err := s.db.GetIssue(ctx, repo.ID, number)
	if err != nil {
		s.respondLookupError(w, err)
		return
	}

	if err := s.syncer.EnsureFresh(ctx, repo, issue); err != nil {
		log.Printf("server: refresh %s#%d: %v (serving cached snapshot)", fullName, number, err)
	} else if issue, err = s.db.GetIssue(ctx, repo.ID, number); err != nil {
		s.respondLookupError(w, err)
		return
	}

	detail, err := s.buildDetail(ctx, repo, issue)
	if err != nil {
		log.Printf("server: build detail for %s#%d: %v", fullName, number, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, detail)
}

func (s *Server) buildDetail(ctx context.Context, repo *models.Repository, issue *models.Issue) (*IssueDetail, error) {
	detail := &IssueDetail{Issue: *issue, CIPassing: true}

	var err error
	if detail.Comments, err = s.db.ListComments(ctx, issue.ID); err != nil {
		return nil, err
	}
	if detail.HasMaintainerComment, err = s.db.HasMaintainerComment(ctx, issue.ID); err != nil {
		return nil, err
	}
	if detail.LinkedPRs, err = s.db.ListLinkedPRs(ctx, issue.ID); err != nil {
		return nil, err
	}

	if !issue.IsPullRequest {
		return detail, nil
	}

	if detail.Reviews, err = s.db.ListReviews(ctx, issue.ID); err != nil {
		return nil, err
	}
	if detail.ReviewComments, err = s.db.ListReviewComments(ctx, issue.ID); err != nil {
		return nil, err
	}
	if detail.LinkedIssues, err = s.db.ListLinkedIssues(ctx, issue.ID); err != nil {
		return nil, err
	}
	if issue.HeadSHA != "" {
		entries, err := s.aggregator.ForCommit(ctx, repo.ID, issue.HeadSHA)
		if err != nil {
			// CI is enrichment; serve the issue without it.
			log.Printf("server: aggregate CI for PR #%d: %v", issue.Number, err)
		} else {
			detail.CIStatuses = entries
			detail.CIPassing = ci.Passing(entries)
		}
	}

	return detail, nil
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	ns, err := s.db.ListNotifications(r.Context(), userID)
	if err != nil {
		log.Printf("server: list notifications for user %d: %v", userID, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if ns == nil {
		ns = []models.Notification{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"userId":        userID,
		"notifications": ns,
	})
}

func (s *Server) respondLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, db.ErrNotFound) {
		http.Error(w, "resource not found", http.StatusNotFound)
		return
	}
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
