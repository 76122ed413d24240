package mfa

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Collection names used by the Mongo-backed stores.
const (
	ConfigCollection     = "mfa_configs"
	BackupCodeCollection = "mfa_backup_codes"
	TrustCollection      = "mfa_trusted_devices"
)

// MongoConfigStore keeps one enrollment document per (tenant, user).
type MongoConfigStore struct {
	coll *mongo.Collection
}

func NewMongoConfigStore(db *mongo.Database) *MongoConfigStore {
	return &MongoConfigStore{coll: db.Collection(ConfigCollection)}
}

func userFilter(tenantID, userID string) bson.M {
	return bson.M{"tenant_id": tenantID, "user_id": userID}
}

func (s *MongoConfigStore) Get(ctx context.Context, tenantID, userID string) (*UserConfig, error) {
	cfg := &UserConfig{}
	err := s.coll.FindOne(ctx, userFilter(tenantID, userID)).Decode(cfg)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrConfigNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return cfg, nil
}

func (s *MongoConfigStore) SaveTOTP(ctx context.Context, tenantID, userID string, secret []byte) error {
	_, err := s.coll.UpdateOne(ctx, userFilter(tenantID, userID), bson.M{
		"$set": bson.M{
			"totp_enabled":      true,
			"totp_secret":       secret,
			"totp_last_counter": int64(0),
			"updated_at":        time.Now().Unix(),
		},
	}, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

func (s *MongoConfigStore) DisableTOTP(ctx context.Context, tenantID, userID string) error {
	_, err := s.coll.UpdateOne(ctx, userFilter(tenantID, userID), bson.M{
		"$set": bson.M{
			"totp_enabled": false,
			"updated_at":   time.Now().Unix(),
		},
		"$unset": bson.M{"totp_secret": ""},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// ClaimTOTPCounter advances the replay-guard counter with a single
// conditional update: the filter only matches while the stored counter is
// strictly smaller, so concurrent claims of the same counter produce
// exactly one modified document.
func (s *MongoConfigStore) ClaimTOTPCounter(ctx context.Context, tenantID, userID string, counter int64) (bool, error) {
	filter := userFilter(tenantID, userID)
	filter["totp_last_counter"] = bson.M{"$lt": counter}

	res, err := s.coll.UpdateOne(ctx, filter, bson.M{
		"$set": bson.M{"totp_last_counter": counter},
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return res.ModifiedCount > 0, nil
}

type backupCodeEntry struct {
	Hash   string `bson:"hash"`
	Used   bool   `bson:"used"`
	UsedAt int64  `bson:"used_at,omitempty"`
}

type backupCodeDoc struct {
	UserID    string            `bson:"user_id"`
	TenantID  string            `bson:"tenant_id"`
	Codes     []backupCodeEntry `bson:"codes"`
	CreatedAt int64             `bson:"created_at"`
}

// MongoBackupCodeStore keeps one recovery-code document per (tenant,
// user). Consumption is a single conditional array update so double-spend
// under concurrency is impossible.
type MongoBackupCodeStore struct {
	coll *mongo.Collection
}

func NewMongoBackupCodeStore(db *mongo.Database) *MongoBackupCodeStore {
	return &MongoBackupCodeStore{coll: db.Collection(BackupCodeCollection)}
}

func (s *MongoBackupCodeStore) Replace(ctx context.Context, tenantID, userID string, hashes []string) error {
	entries := make([]backupCodeEntry, len(hashes))
	for i, h := range hashes {
		entries[i] = backupCodeEntry{Hash: h}
	}

	_, err := s.coll.ReplaceOne(ctx, userFilter(tenantID, userID), backupCodeDoc{
		UserID:    userID,
		TenantID:  tenantID,
		Codes:     entries,
		CreatedAt: time.Now().Unix(),
	}, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

func (s *MongoBackupCodeStore) Consume(ctx context.Context, tenantID, userID, hash string) (bool, error) {
	filter := userFilter(tenantID, userID)
	filter["codes"] = bson.M{"$elemMatch": bson.M{"hash": hash, "used": false}}

	res, err := s.coll.UpdateOne(ctx, filter, bson.M{
		"$set": bson.M{
			"codes.$.used":    true,
			"codes.$.used_at": time.Now().Unix(),
		},
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return res.ModifiedCount > 0, nil
}

func (s *MongoBackupCodeStore) Remaining(ctx context.Context, tenantID, userID string) (int, error) {
	doc := &backupCodeDoc{}
	err := s.coll.FindOne(ctx, userFilter(tenantID, userID)).Decode(doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	remaining := 0
	for _, c := range doc.Codes {
		if !c.Used {
			remaining++
		}
	}
	return remaining, nil
}

type trustDoc struct {
	UserID   string          `bson:"user_id"`
	TenantID string          `bson:"tenant_id"`
	Devices  []TrustedDevice `bson:"devices"`
}

// MongoTrustStore keeps one trusted-device document per (tenant, user).
type MongoTrustStore struct {
	coll *mongo.Collection
}

func NewMongoTrustStore(db *mongo.Database) *MongoTrustStore {
	return &MongoTrustStore{coll: db.Collection(TrustCollection)}
}

func (s *MongoTrustStore) List(ctx context.Context, tenantID, userID string) ([]TrustedDevice, error) {
	doc := &trustDoc{}
	err := s.coll.FindOne(ctx, userFilter(tenantID, userID)).Decode(doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return doc.Devices, nil
}

func (s *MongoTrustStore) Put(ctx context.Context, tenantID, userID string, device TrustedDevice) error {
	// Drop any stale entry for the same device id first so re-trusting
	// refreshes instead of duplicating.
	if err := s.Remove(ctx, tenantID, userID, device.DeviceID); err != nil {
		return err
	}

	_, err := s.coll.UpdateOne(ctx, userFilter(tenantID, userID), bson.M{
		"$push": bson.M{"devices": device},
		"$setOnInsert": bson.M{
			"user_id":   userID,
			"tenant_id": tenantID,
		},
	}, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

func (s *MongoTrustStore) Remove(ctx context.Context, tenantID, userID, deviceID string) error {
	_, err := s.coll.UpdateOne(ctx, userFilter(tenantID, userID), bson.M{
		"$pull": bson.M{"devices": bson.M{"device_id": deviceID}},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

func (s *MongoTrustStore) Touch(ctx context.Context, tenantID, userID, deviceID string, lastUsed int64) error {
	filter := userFilter(tenantID, userID)
	filter["devices.device_id"] = deviceID

	_, err := s.coll.UpdateOne(ctx, filter, bson.M{
		"$set": bson.M{"devices.$.last_used": lastUsed},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}
