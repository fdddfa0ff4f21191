package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dledger/slipchain/backend/model"
	"github.com/dledger/slipchain/backend/pkg/logger"
)

// Pinner uploads a document and returns its content identifier.
type Pinner interface {
	Pin(ctx context.Context, content []byte, filename string) (string, error)
}

// Archiver stores raw receipt copies. The archive is best-effort on the
// registration path: the ledger already holds the record by the time the
// archive is written, so an archive failure is logged, not surfaced.
type Archiver interface {
	Put(ctx context.Context, objectName string, content []byte, contentType string) error
	PresignedURL(ctx context.Context, objectName string) (string, error)
}

// RegistryService runs the notarization workflow: pin the document,
// write the ledger record, then mirror it locally. The two external
// systems share no transaction; pinning happens first, and a ledger
// failure leaves the pinned content orphaned (there is no unpin
// contract). Ordering and that accepted inconsistency are deliberate.
type RegistryService struct {
	pinner  Pinner
	ledger  Ledger
	store   *SlipStore
	archive Archiver // nil disables archiving
}

func NewRegistryService(pinner Pinner, ledger Ledger, store *SlipStore, archive Archiver) *RegistryService {
	return &RegistryService{
		pinner:  pinner,
		ledger:  ledger,
		store:   store,
		archive: archive,
	}
}

// RegisterInput is one warranty registration request.
type RegisterInput struct {
	Content     []byte
	Filename    string
	ProductName string
	OwnerID     string
	DeviceID    string
	WarrantyEnd string // YYYY-MM-DD
}

// Register notarizes a warranty document end to end.
func (r *RegistryService) Register(ctx context.Context, in RegisterInput) (*model.Slip, error) {
	start := Today()
	endTS, err := EncodeDate(in.WarrantyEnd)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	startTS, _ := EncodeDate(start)
	if endTS < startTS {
		return nil, fmt.Errorf("%w: warranty end %s is in the past", ErrValidation, in.WarrantyEnd)
	}

	contentHash, err := r.pinner.Pin(ctx, in.Content, in.Filename)
	if err != nil {
		return nil, err
	}

	exists, err := r.store.ContainsHash(ctx, contentHash)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateContent, contentHash)
	}

	if err := r.ledger.Store(ctx, contentHash, in.WarrantyEnd, in.DeviceID); err != nil {
		return nil, err
	}

	slip := &model.Slip{
		ProductName:   in.ProductName,
		OwnerID:       in.OwnerID,
		ContentHash:   contentHash,
		DeviceID:      in.DeviceID,
		WarrantyStart: start,
		WarrantyEnd:   in.WarrantyEnd,
		UploadedAt:    time.Now(),
	}
	slip.ArchiveURL = r.archiveReceipt(ctx, in.DeviceID, in.Filename, in.Content)

	if err := r.store.Create(ctx, slip); err != nil {
		return nil, err
	}

	logger.Info(ctx, "warranty registered",
		"device_id", in.DeviceID,
		"content_hash", contentHash,
		"warranty_end", in.WarrantyEnd,
	)
	return slip, nil
}

// Upload pins a document and mirrors it without a ledger record. This is
// the plain slip upload path; no device id is involved.
func (r *RegistryService) Upload(ctx context.Context, content []byte, filename, ownerID, productName string) (*model.Slip, error) {
	contentHash, err := r.pinner.Pin(ctx, content, filename)
	if err != nil {
		return nil, err
	}

	exists, err := r.store.ContainsHash(ctx, contentHash)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateContent, contentHash)
	}

	today := Today()
	slip := &model.Slip{
		ProductName:   productName,
		OwnerID:       ownerID,
		ContentHash:   contentHash,
		WarrantyStart: today,
		WarrantyEnd:   today,
		UploadedAt:    time.Now(),
	}
	slip.ArchiveURL = r.archiveReceipt(ctx, ownerID, filename, content)

	if err := r.store.Create(ctx, slip); err != nil {
		return nil, err
	}
	return slip, nil
}

// UpdateDocument pins replacement content and repoints both the ledger
// record and the mirror.
func (r *RegistryService) UpdateDocument(ctx context.Context, deviceID string, content []byte, filename string) (string, error) {
	contentHash, err := r.pinner.Pin(ctx, content, filename)
	if err != nil {
		return "", err
	}

	exists, err := r.store.ContainsHash(ctx, contentHash)
	if err != nil {
		return "", err
	}
	if exists {
		return "", fmt.Errorf("%w: %s", ErrDuplicateContent, contentHash)
	}

	if err := r.ledger.UpdateDocument(ctx, deviceID, contentHash); err != nil {
		return "", err
	}
	if err := r.store.UpdateHash(ctx, deviceID, contentHash); err != nil {
		return "", err
	}

	r.archiveReceipt(ctx, deviceID, filename, content)
	return contentHash, nil
}

// Extend moves the warranty end date forward on the ledger and mirror.
func (r *RegistryService) Extend(ctx context.Context, deviceID, newEndDate string) error {
	if err := r.ledger.Extend(ctx, deviceID, newEndDate); err != nil {
		return err
	}
	return r.store.UpdateEndDate(ctx, deviceID, newEndDate)
}

// Transfer reassigns the on-chain issuer; if a new owner id is known the
// mirror follows.
func (r *RegistryService) Transfer(ctx context.Context, deviceID, newOwnerAddress, newOwnerID string) error {
	if err := r.ledger.Transfer(ctx, deviceID, newOwnerAddress); err != nil {
		return err
	}
	if newOwnerID == "" {
		return nil
	}
	return r.store.UpdateOwner(ctx, deviceID, newOwnerID)
}

func (r *RegistryService) archiveReceipt(ctx context.Context, prefix, filename string, content []byte) string {
	if r.archive == nil {
		return ""
	}
	objectName := fmt.Sprintf("slips/%s/%s/%s", prefix, uuid.New().String(), filename)
	if err := r.archive.Put(ctx, objectName, content, "application/octet-stream"); err != nil {
		logger.Warn(ctx, "receipt archive failed", "object", objectName, "error", err)
		return ""
	}
	url, err := r.archive.PresignedURL(ctx, objectName)
	if err != nil {
		logger.Warn(ctx, "presigned URL failed", "object", objectName, "error", err)
		return ""
	}
	return url
}
