// Package agents implements publishing, browsing and downloading agents.
package agents

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/agenthub/marketplace/internal/blobstore"
	"github.com/agenthub/marketplace/internal/domain/agent"
	"github.com/agenthub/marketplace/internal/domain/category"
	"github.com/agenthub/marketplace/internal/domain/validation"
	"github.com/agenthub/marketplace/internal/errors"
	"github.com/agenthub/marketplace/internal/logging"
	"github.com/agenthub/marketplace/internal/metrics"
	"github.com/agenthub/marketplace/internal/queue"
	"github.com/agenthub/marketplace/internal/storage"
)

const (
	// DefaultPresignTTL bounds presigned download and upload URLs.
	DefaultPresignTTL = 15 * time.Minute

	maxSlugDedupAttempts = 50
)

// Service handles the agent catalog and bundle storage.
type Service struct {
	store          storage.Store
	blobs          blobstore.Store
	jobs           queue.Queue
	logger         *logging.Logger
	maxBundleBytes int64
}

// New creates the agents service.
func New(store storage.Store, blobs blobstore.Store, jobs queue.Queue, logger *logging.Logger, maxBundleBytes int64) *Service {
	return &Service{
		store:          store,
		blobs:          blobs,
		jobs:           jobs,
		logger:         logger,
		maxBundleBytes: maxBundleBytes,
	}
}

// Detail is an agent with its versions and categories. Starred reports
// whether the viewing user has starred the agent, always false for
// anonymous viewers.
type Detail struct {
	Agent      agent.Agent         `json:"agent"`
	Versions   []agent.Version     `json:"versions"`
	Categories []category.Category `json:"categories"`
	Starred    bool                `json:"starred_by_me"`
}

// List returns public agents matching the filter.
func (s *Service) List(ctx context.Context, filter agent.ListFilter) ([]agent.Agent, error) {
	if filter.Sort != "" && !agent.ValidSort(filter.Sort) {
		return nil, errors.InvalidInput("unknown sort key " + filter.Sort)
	}
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	out, err := s.store.ListAgents(ctx, filter)
	if err != nil {
		return nil, errors.Internal("list agents", err)
	}
	return out, nil
}

// Get returns an agent with versions and categories by slug. A
// non-empty viewerID additionally resolves the viewer's star state.
func (s *Service) Get(ctx context.Context, slug, viewerID string) (Detail, error) {
	a, err := s.bySlug(ctx, slug)
	if err != nil {
		return Detail{}, err
	}
	versions, err := s.store.ListVersions(ctx, a.ID)
	if err != nil {
		return Detail{}, errors.Internal("list versions", err)
	}
	cats, err := s.store.AgentCategories(ctx, a.ID)
	if err != nil {
		return Detail{}, errors.Internal("list categories", err)
	}
	detail := Detail{Agent: a, Versions: versions, Categories: cats}
	if viewerID != "" {
		starred, err := s.store.HasStarred(ctx, a.ID, viewerID)
		if err != nil {
			return Detail{}, errors.Internal("check star", err)
		}
		detail.Starred = starred
	}
	return detail, nil
}

// PublishInput describes a new agent submission.
type PublishInput struct {
	Name        string
	Description string
	Category    string
	Version     string
	Changelog   string
	Bundle      io.Reader
	BundleSize  int64
	AuthorID    string
}

// Publish creates an agent, stores its first bundle and enqueues
// validation. The agent stays unvalidated until the pipeline passes.
func (s *Service) Publish(ctx context.Context, in PublishInput) (Detail, error) {
	if err := s.validatePublish(in); err != nil {
		metrics.RecordUpload("rejected")
		return Detail{}, err
	}

	slug, err := s.uniqueSlug(ctx, in.Name)
	if err != nil {
		return Detail{}, err
	}

	var categoryIDs []string
	if in.Category != "" {
		cat, err := s.store.GetCategoryBySlug(ctx, in.Category)
		if err != nil {
			if stderrors.Is(err, storage.ErrNotFound) {
				return Detail{}, errors.InvalidInput("unknown category " + in.Category)
			}
			return Detail{}, errors.Internal("load category", err)
		}
		categoryIDs = append(categoryIDs, cat.ID)
	}

	key := blobstore.BundleKey(slug, in.Version)
	if err := s.blobs.Upload(ctx, key, io.LimitReader(in.Bundle, s.maxBundleBytes), in.BundleSize, "application/zip"); err != nil {
		metrics.RecordUpload("error")
		return Detail{}, errors.Internal("store bundle", err)
	}

	a, err := s.store.CreateAgent(ctx, agent.Agent{
		Name:           in.Name,
		Slug:           slug,
		Description:    in.Description,
		AuthorID:       in.AuthorID,
		CurrentVersion: in.Version,
		Public:         true,
	})
	if err != nil {
		_ = s.blobs.Delete(ctx, key)
		metrics.RecordUpload("error")
		return Detail{}, errors.Internal("create agent", err)
	}

	v, err := s.store.CreateVersion(ctx, agent.Version{
		AgentID:    a.ID,
		Version:    in.Version,
		StorageKey: key,
		SizeBytes:  in.BundleSize,
		Changelog:  in.Changelog,
	})
	if err != nil {
		_ = s.store.DeleteAgent(ctx, a.ID)
		_ = s.blobs.Delete(ctx, key)
		metrics.RecordUpload("error")
		return Detail{}, errors.Internal("create version", err)
	}

	if len(categoryIDs) > 0 {
		if err := s.store.SetAgentCategories(ctx, a.ID, categoryIDs); err != nil {
			s.logger.WithContext(ctx).WithError(err).Warn("Failed to link categories")
		}
	}

	if err := s.enqueueValidation(ctx, a, v); err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to enqueue validation")
	}

	metrics.RecordUpload("accepted")
	s.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"agent_id": a.ID,
		"slug":     a.Slug,
		"version":  v.Version,
	}).Info("Agent published")

	return Detail{Agent: a, Versions: []agent.Version{v}}, nil
}

func (s *Service) validatePublish(in PublishInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return errors.InvalidInput("name is required")
	}
	if !agent.ValidVersion(in.Version) {
		return errors.InvalidInput("version must be X.Y.Z")
	}
	if in.Bundle == nil || in.BundleSize <= 0 {
		return errors.InvalidInput("code bundle is required")
	}
	if in.BundleSize > s.maxBundleBytes {
		return errors.PayloadTooLarge(s.maxBundleBytes)
	}
	return nil
}

func (s *Service) uniqueSlug(ctx context.Context, name string) (string, error) {
	base := agent.Slugify(name)
	if base == "" {
		return "", errors.InvalidInput("name has no slug-safe characters")
	}
	slug := base
	for n := 1; n <= maxSlugDedupAttempts; n++ {
		taken, err := s.store.SlugExists(ctx, slug)
		if err != nil {
			return "", errors.Internal("check slug", err)
		}
		if !taken {
			return slug, nil
		}
		slug = agent.DedupSlug(base, n)
	}
	return "", errors.Conflict("could not derive a unique slug for " + name)
}

func (s *Service) enqueueValidation(ctx context.Context, a agent.Agent, v agent.Version) error {
	run, err := s.store.CreateRun(ctx, validation.Run{
		VersionID: v.ID,
		AgentID:   a.ID,
		Status:    validation.StatusPending,
	})
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return s.jobs.Enqueue(ctx, queue.Job{
		RunID:      run.ID,
		AgentID:    a.ID,
		VersionID:  v.ID,
		StorageKey: v.StorageKey,
		Attempt:    1,
	})
}

// UpdateInput carries the owner-editable agent fields.
type UpdateInput struct {
	Description *string
	Public      *bool
	Category    *string
}

// Update edits an agent. Only the owner may update.
func (s *Service) Update(ctx context.Context, slug, userID string, in UpdateInput) (agent.Agent, error) {
	a, err := s.bySlug(ctx, slug)
	if err != nil {
		return agent.Agent{}, err
	}
	if a.AuthorID != userID {
		return agent.Agent{}, errors.Forbidden("only the author may update this agent")
	}

	if in.Description != nil {
		a.Description = *in.Description
	}
	if in.Public != nil {
		a.Public = *in.Public
	}
	updated, err := s.store.UpdateAgent(ctx, a)
	if err != nil {
		return agent.Agent{}, errors.Internal("update agent", err)
	}
	if in.Category != nil {
		if err := s.reassignCategory(ctx, a.ID, *in.Category); err != nil {
			return agent.Agent{}, err
		}
	}
	return updated, nil
}

func (s *Service) reassignCategory(ctx context.Context, agentID, categorySlug string) error {
	if categorySlug == "" {
		if err := s.store.SetAgentCategories(ctx, agentID, nil); err != nil {
			return errors.Internal("clear categories", err)
		}
		return nil
	}
	cat, err := s.store.GetCategoryBySlug(ctx, categorySlug)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return errors.InvalidInput("unknown category " + categorySlug)
		}
		return errors.Internal("load category", err)
	}
	if err := s.store.SetAgentCategories(ctx, agentID, []string{cat.ID}); err != nil {
		return errors.Internal("assign category", err)
	}
	return nil
}

// Delete removes an agent, its versions and its bundles. Only the owner
// may delete.
func (s *Service) Delete(ctx context.Context, slug, userID string) error {
	a, err := s.bySlug(ctx, slug)
	if err != nil {
		return err
	}
	if a.AuthorID != userID {
		return errors.Forbidden("only the author may delete this agent")
	}
	return s.deleteAgent(ctx, a)
}

func (s *Service) deleteAgent(ctx context.Context, a agent.Agent) error {
	versions, err := s.store.ListVersions(ctx, a.ID)
	if err != nil {
		return errors.Internal("list versions", err)
	}
	if err := s.store.DeleteAgent(ctx, a.ID); err != nil {
		return errors.Internal("delete agent", err)
	}
	for _, v := range versions {
		if err := s.blobs.Delete(ctx, v.StorageKey); err != nil {
			s.logger.WithContext(ctx).WithError(err).WithField("key", v.StorageKey).Warn("Failed to delete bundle")
		}
	}
	return nil
}

// PublishVersionInput describes a new version of an existing agent.
type PublishVersionInput struct {
	Version    string
	Changelog  string
	Bundle     io.Reader
	BundleSize int64
}

// PublishVersion stores a new bundle for an existing agent and enqueues
// validation. Only the owner may publish.
func (s *Service) PublishVersion(ctx context.Context, slug, userID string, in PublishVersionInput) (agent.Version, error) {
	a, err := s.bySlug(ctx, slug)
	if err != nil {
		return agent.Version{}, err
	}
	if a.AuthorID != userID {
		return agent.Version{}, errors.Forbidden("only the author may publish versions")
	}
	if !agent.ValidVersion(in.Version) {
		return agent.Version{}, errors.InvalidInput("version must be X.Y.Z")
	}
	if in.Bundle == nil || in.BundleSize <= 0 {
		return agent.Version{}, errors.InvalidInput("code bundle is required")
	}
	if in.BundleSize > s.maxBundleBytes {
		return agent.Version{}, errors.PayloadTooLarge(s.maxBundleBytes)
	}

	key := blobstore.BundleKey(a.Slug, in.Version)
	if err := s.blobs.Upload(ctx, key, io.LimitReader(in.Bundle, s.maxBundleBytes), in.BundleSize, "application/zip"); err != nil {
		metrics.RecordUpload("error")
		return agent.Version{}, errors.Internal("store bundle", err)
	}

	v, err := s.store.CreateVersion(ctx, agent.Version{
		AgentID:    a.ID,
		Version:    in.Version,
		StorageKey: key,
		SizeBytes:  in.BundleSize,
		Changelog:  in.Changelog,
	})
	if err != nil {
		_ = s.blobs.Delete(ctx, key)
		if stderrors.Is(err, storage.ErrDuplicate) {
			metrics.RecordUpload("rejected")
			return agent.Version{}, errors.Conflict("version " + in.Version + " already exists")
		}
		metrics.RecordUpload("error")
		return agent.Version{}, errors.Internal("create version", err)
	}

	a.CurrentVersion = in.Version
	a.Validated = false
	if _, err := s.store.UpdateAgent(ctx, a); err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("Failed to bump current version")
	}

	if err := s.enqueueValidation(ctx, a, v); err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to enqueue validation")
	}

	metrics.RecordUpload("accepted")
	return v, nil
}

// DownloadURL resolves a presigned URL for a bundle and counts the
// download. An empty version means the current one.
func (s *Service) DownloadURL(ctx context.Context, slug, version string) (*url.URL, error) {
	a, err := s.bySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if version == "" {
		version = a.CurrentVersion
	}
	v, err := s.store.GetVersionByNumber(ctx, a.ID, version)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return nil, errors.NotFound("version", version)
		}
		return nil, errors.Internal("load version", err)
	}

	// The row can outlive the object when a cleanup raced a download.
	ok, err := s.blobs.Exists(ctx, v.StorageKey)
	if err != nil {
		return nil, errors.Internal("check bundle", err)
	}
	if !ok {
		return nil, errors.NotFound("bundle", v.StorageKey)
	}

	u, err := s.blobs.PresignedGet(ctx, v.StorageKey, DefaultPresignTTL)
	if err != nil {
		return nil, errors.Internal("presign bundle", err)
	}
	if err := s.store.IncrementDownloads(ctx, a.ID); err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("Failed to count download")
	}
	metrics.RecordDownload()
	return u, nil
}

// PresignedUpload returns a direct upload URL for a pending version.
// Only the owner may request one.
func (s *Service) PresignedUpload(ctx context.Context, slug, userID, version string) (*url.URL, error) {
	a, err := s.bySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if a.AuthorID != userID {
		return nil, errors.Forbidden("only the author may upload bundles")
	}
	if !agent.ValidVersion(version) {
		return nil, errors.InvalidInput("version must be X.Y.Z")
	}
	u, err := s.blobs.PresignedPut(ctx, blobstore.BundleKey(a.Slug, version), DefaultPresignTTL)
	if err != nil {
		return nil, errors.Internal("presign upload", err)
	}
	return u, nil
}

// Star stars an agent for a user. Double stars are a conflict.
func (s *Service) Star(ctx context.Context, slug, userID string) error {
	a, err := s.bySlug(ctx, slug)
	if err != nil {
		return err
	}
	if err := s.store.Star(ctx, a.ID, userID); err != nil {
		if stderrors.Is(err, storage.ErrDuplicate) {
			return errors.Conflict("agent already starred")
		}
		return errors.Internal("star agent", err)
	}
	metrics.RecordStar("star")
	return nil
}

// Unstar removes a star. Removing a missing star is a conflict.
func (s *Service) Unstar(ctx context.Context, slug, userID string) error {
	a, err := s.bySlug(ctx, slug)
	if err != nil {
		return err
	}
	if err := s.store.Unstar(ctx, a.ID, userID); err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return errors.Conflict("agent is not starred")
		}
		return errors.Internal("unstar agent", err)
	}
	metrics.RecordStar("unstar")
	return nil
}

// LatestValidation returns the newest validation run for the agent's
// current version.
func (s *Service) LatestValidation(ctx context.Context, slug string) (validation.Run, error) {
	a, err := s.bySlug(ctx, slug)
	if err != nil {
		return validation.Run{}, err
	}
	v, err := s.store.GetVersionByNumber(ctx, a.ID, a.CurrentVersion)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return validation.Run{}, errors.NotFound("version", a.CurrentVersion)
		}
		return validation.Run{}, errors.Internal("load version", err)
	}
	run, err := s.store.LatestRunForVersion(ctx, v.ID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return validation.Run{}, errors.NotFound("validation run", v.ID)
		}
		return validation.Run{}, errors.Internal("load run", err)
	}
	return run, nil
}

func (s *Service) bySlug(ctx context.Context, slug string) (agent.Agent, error) {
	a, err := s.store.GetAgentBySlug(ctx, slug)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return agent.Agent{}, errors.NotFound("agent", slug)
		}
		return agent.Agent{}, errors.Internal("load agent", err)
	}
	return a, nil
}
