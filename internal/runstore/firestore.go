package runstore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/granuleflow/internal/models"
)

// FirestoreStore keeps one document per run, keyed by run id.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreStore(client *firestore.Client, collection string) *FirestoreStore {
	return &FirestoreStore{client: client, collection: collection}
}

func (s *FirestoreStore) doc(runID string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(runID)
}

func (s *FirestoreStore) Create(ctx context.Context, rec models.RunRecord) error {
	ts := now()
	rec.CreatedAt = ts
	rec.UpdatedAt = ts
	if _, err := s.doc(rec.RunID).Create(ctx, rec); err != nil {
		return fmt.Errorf("failed to create run document %s: %w", rec.RunID, err)
	}
	return nil
}

func (s *FirestoreStore) UpdateState(ctx context.Context, runID string, state models.RunState, stage, errDetails string) error {
	updates := []firestore.Update{
		{Path: "state", Value: state},
		{Path: "stage", Value: stage},
		{Path: "updatedAt", Value: now()},
	}
	if errDetails != "" {
		updates = append(updates, firestore.Update{Path: "errorDetails", Value: errDetails})
	}
	_, err := s.doc(runID).Update(ctx, updates)
	return mapError(runID, err)
}

func (s *FirestoreStore) RecordJob(ctx context.Context, runID string, job models.Job) error {
	ref := s.doc(runID)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var rec models.RunRecord
		if err := snap.DataTo(&rec); err != nil {
			return err
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "jobs", Value: upsertJob(rec.Jobs, job)},
			{Path: "updatedAt", Value: now()},
		})
	})
	return mapError(runID, err)
}

func (s *FirestoreStore) SetArtifacts(ctx context.Context, runID string, artifacts []string) error {
	_, err := s.doc(runID).Update(ctx, []firestore.Update{
		{Path: "artifacts", Value: artifacts},
		{Path: "updatedAt", Value: now()},
	})
	return mapError(runID, err)
}

func (s *FirestoreStore) Get(ctx context.Context, runID string) (*models.RunRecord, error) {
	snap, err := s.doc(runID).Get(ctx)
	if err != nil {
		return nil, mapError(runID, err)
	}
	var rec models.RunRecord
	if err := snap.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode run document %s: %w", runID, err)
	}
	return &rec, nil
}

func mapError(runID string, err error) error {
	if err == nil {
		return nil
	}
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return fmt.Errorf("run %s: %w", runID, err)
}
