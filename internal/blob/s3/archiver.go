package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/shopspring/decimal"

	"github.com/mkoval/vaultbot/internal/domain"
)

// Archiver writes a JSON record for every closed position to object storage,
// partitioned by close date:
//
//	positions/2026-08-31/{position_id}.json
//
// The archive is a durable copy of the final position state plus its full
// stage-transition history, independent of the primary database.
type Archiver struct {
	uploader *manager.Uploader
	bucket   string
}

// NewArchiver creates an Archiver that uploads to the client's bucket.
func NewArchiver(c *Client) *Archiver {
	return &Archiver{
		uploader: manager.NewUploader(c.S3()),
		bucket:   c.Bucket(),
	}
}

// positionRecord is the archived JSON shape.
type positionRecord struct {
	Position  domain.PositionSummary `json:"position"`
	History   []domain.DoublingEvent `json:"history"`
	ExitPrice decimal.Decimal        `json:"exit_price"`
	Reason    string                 `json:"reason"`
	ClosedAt  time.Time              `json:"closed_at"`
}

// ArchiveClosedPosition serializes the final state of a closed position and
// uploads it.
func (a *Archiver) ArchiveClosedPosition(
	ctx context.Context,
	p domain.PositionSummary,
	history []domain.DoublingEvent,
	exitPrice decimal.Decimal,
	reason string,
	closedAt time.Time,
) error {
	rec := positionRecord{
		Position:  p,
		History:   history,
		ExitPrice: exitPrice,
		Reason:    reason,
		ClosedAt:  closedAt,
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rec); err != nil {
		return fmt.Errorf("s3blob: marshal position %s: %w", p.ID, err)
	}

	key := archiveKey(p.ID, closedAt)
	_, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        &buf,
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3blob: upload position %s: %w", p.ID, err)
	}
	return nil
}

// archiveKey builds the S3 key for a closed position, partitioned by the
// close date.
func archiveKey(positionID string, closedAt time.Time) string {
	return fmt.Sprintf("positions/%s/%s.json", closedAt.UTC().Format("2006-01-02"), positionID)
}
