// Package artifacts implements the content-addressed artifact registry:
// decode, hash, dedup-lookup, store, and record — one atomic unit per
// spec.md §4.7. Grounded in the teacher's dedup-by-unique-index idiom
// (pkg/services/session_service.go's ent.IsConstraintError handling).
package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/tbenself/clawops/ent"
	"github.com/tbenself/clawops/ent/artifact"
	"github.com/tbenself/clawops/pkg/coreerr"
	"github.com/tbenself/clawops/pkg/eventlog"
	"github.com/tbenself/clawops/pkg/ids"
	"github.com/tbenself/clawops/pkg/projectors"
)

// Encoding is how content_bytes is carried over the wire.
type Encoding string

const (
	EncodingUTF8   Encoding = "utf8"
	EncodingBase64 Encoding = "base64"
)

// Store is the blob-provider abstraction. Out of scope per spec.md's
// non-goals: "blob storage (consumed via an interface)" — the registry
// never assumes a concrete backend, only that Put is content-addressable
// and returns an opaque pointer the registry can persist and later hand
// back unchanged.
type Store interface {
	// Put persists raw bytes under contentHash and returns an opaque
	// storage pointer (e.g. a bucket key or local path).
	Put(ctx context.Context, projectID, contentHash string, raw []byte) (storageRef string, err error)
}

// ReportInput is the input to ReportArtifact.
type ReportInput struct {
	TenantID      string
	ProjectID     string
	CorrelationID string
	Content       string
	Encoding      Encoding
	ContentType   string
	LogicalName   string
	CommandID     *string
	RunID         *string
	Labels        map[string]any
	Links         []string
}

// Result is returned by ReportArtifact.
type Result struct {
	ArtifactID   string
	Deduplicated bool
}

// Registry wires artifact reporting to the event log and blob store.
type Registry struct {
	client *ent.Client
	log    *eventlog.Log
	store  Store
}

func New(client *ent.Client, log *eventlog.Log, store Store) *Registry {
	return &Registry{client: client, log: log, store: store}
}

// ReportArtifact decodes, hashes, dedups per-project, and — only on a miss
// — stores the blob and records a manifest row plus ArtifactProduced in a
// single transaction.
func (r *Registry) ReportArtifact(ctx context.Context, in ReportInput) (*Result, error) {
	raw, err := decode(in.Content, in.Encoding)
	if err != nil {
		return nil, fmt.Errorf("decoding artifact content: %w", err)
	}
	sum := sha256.Sum256(raw)
	contentHash := hex.EncodeToString(sum[:])

	existing, err := r.client.Artifact.Query().
		Where(artifact.ProjectID(in.ProjectID), artifact.ContentHash(contentHash)).
		Only(ctx)
	switch {
	case err == nil:
		return &Result{ArtifactID: existing.ID, Deduplicated: true}, nil
	case !ent.IsNotFound(err):
		return nil, fmt.Errorf("checking artifact dedup: %w", err)
	}

	storageRef, err := r.store.Put(ctx, in.ProjectID, contentHash, raw)
	if err != nil {
		return nil, fmt.Errorf("storing artifact blob: %w", err)
	}

	tx, err := r.client.Tx(ctx)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	artifactID := ids.New()
	payload := map[string]any{
		"artifact_id":  artifactID,
		"content_hash": contentHash,
		"content_type": in.ContentType,
		"size_bytes":   int64(len(raw)),
		"storage_ref":  storageRef,
		"title":        in.LogicalName,
	}
	if in.Labels != nil {
		payload["metadata"] = in.Labels
	}

	ev, err := r.log.Append(ctx, tx, eventlog.AppendInput{
		TenantID:      in.TenantID,
		ProjectID:     in.ProjectID,
		Type:          eventlog.ArtifactProduced,
		CorrelationID: in.CorrelationID,
		CommandID:     in.CommandID,
		RunID:         in.RunID,
		Payload:       payload,
	})
	if err != nil {
		return nil, err
	}

	if err := projectors.Apply(ctx, tx, ev, false); err != nil {
		return nil, fmt.Errorf("projecting ArtifactProduced: %w", err)
	}

	// The projector swallows the unique-index violation as an idempotent
	// no-op (its usual meaning: replaying an event whose row already
	// exists under this id). Here a violation instead means we lost a
	// race with a concurrent reporter of the same content under a
	// different id, so our own row was never written; detect that and
	// resolve to the winner instead of returning a dangling artifact_id.
	if _, err := tx.Artifact.Get(ctx, artifactID); err != nil {
		if !ent.IsNotFound(err) {
			return nil, fmt.Errorf("verifying artifact write: %w", err)
		}
		if err := tx.Rollback(); err != nil {
			return nil, fmt.Errorf("rolling back after dedup race: %w", err)
		}
		winner, werr := r.client.Artifact.Query().
			Where(artifact.ProjectID(in.ProjectID), artifact.ContentHash(contentHash)).
			Only(ctx)
		if werr != nil {
			return nil, fmt.Errorf("resolving dedup race: %w", werr)
		}
		return &Result{ArtifactID: winner.ID, Deduplicated: true}, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing artifact report: %w", err)
	}
	return &Result{ArtifactID: artifactID, Deduplicated: false}, nil
}

// GetArtifact loads a single artifact by id, scoped to projectID. A
// cross-project id is indistinguishable from an unknown one.
func (r *Registry) GetArtifact(ctx context.Context, projectID, artifactID string) (*ent.Artifact, error) {
	row, err := r.client.Artifact.Query().
		Where(artifact.ID(artifactID), artifact.ProjectID(projectID)).
		Only(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, coreerr.ErrNotFound
		}
		return nil, fmt.Errorf("loading artifact: %w", err)
	}
	return row, nil
}

// ArtifactsForRun lists every artifact produced by runID, scoped to projectID.
func (r *Registry) ArtifactsForRun(ctx context.Context, projectID, runID string) ([]*ent.Artifact, error) {
	rows, err := r.client.Artifact.Query().
		Where(artifact.ProjectID(projectID), artifact.RunID(runID)).
		Order(ent.Asc(artifact.FieldCreatedTs)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing artifacts for run: %w", err)
	}
	return rows, nil
}

// ArtifactsForCommand lists every artifact produced across all of
// commandID's runs, scoped to projectID.
func (r *Registry) ArtifactsForCommand(ctx context.Context, projectID, commandID string) ([]*ent.Artifact, error) {
	rows, err := r.client.Artifact.Query().
		Where(artifact.ProjectID(projectID), artifact.CommandID(commandID)).
		Order(ent.Asc(artifact.FieldCreatedTs)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing artifacts for command: %w", err)
	}
	return rows, nil
}

func decode(content string, enc Encoding) ([]byte, error) {
	switch enc {
	case EncodingUTF8:
		return []byte(content), nil
	case EncodingBase64:
		return base64.StdEncoding.DecodeString(content)
	default:
		return nil, fmt.Errorf("unsupported encoding %q", enc)
	}
}

// Manifest is the resolved artifact row surfaced by decision_detail's
// context bundle.
type Manifest struct {
	ArtifactID  string
	ContentType string
	Title       *string
	SizeBytes   int64
	StorageRef  string
}

// Resolve looks up artifacts by id within a project scope, for
// decision_detail's artifact_refs resolution. Unknown or cross-project ids
// are silently omitted from the result rather than erroring, since a
// decision's artifact_refs may reference artifacts that predate a reader's
// access.
func (r *Registry) Resolve(ctx context.Context, projectID string, artifactIDs []string) ([]*Manifest, error) {
	if len(artifactIDs) == 0 {
		return nil, nil
	}
	rows, err := r.client.Artifact.Query().
		Where(artifact.ProjectID(projectID), artifact.IDIn(artifactIDs...)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving artifacts: %w", err)
	}
	out := make([]*Manifest, 0, len(rows))
	for _, row := range rows {
		out = append(out, &Manifest{
			ArtifactID:  row.ID,
			ContentType: row.ContentType,
			Title:       row.Title,
			SizeBytes:   row.SizeBytes,
			StorageRef:  row.StorageRef,
		})
	}
	return out, nil
}
