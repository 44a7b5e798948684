package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hakrNJN/user-management-service-sub003/internal/keys"
	"github.com/hakrNJN/user-management-service-sub003/kv"
)

// UserProfileStore provides tenant-scoped CRUD over user profiles.
//
// The email is unique per tenant: an email pointer record is written in the
// same transaction as the profile and moved when the email changes.
type UserProfileStore struct {
	kv     *kv.Provider
	logger *slog.Logger
}

// NewUserProfileStore creates a new UserProfileStore.
func NewUserProfileStore(provider *kv.Provider, logger *slog.Logger) *UserProfileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserProfileStore{kv: provider, logger: logger}
}

func userKey(tenantID, userID string) kv.Key {
	return kv.Key{PK: keys.TenantPK(tenantID), SK: keys.Entity(keys.UserPrefix, userID)}
}

func userEmailKey(tenantID, email string) kv.Key {
	return kv.Key{PK: keys.TenantPK(tenantID), SK: keys.Entity(keys.UserEmailPrefix, email)}
}

func emailPointer(tenantID, userID, email string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"tenant_id": &types.AttributeValueMemberS{Value: tenantID},
		"user_id":   &types.AttributeValueMemberS{Value: userID},
		"email":     &types.AttributeValueMemberS{Value: email},
	}
}

// Create writes a new profile and its email pointer transactionally.
// Collisions on the user id or the email return AlreadyExistsError.
func (s *UserProfileStore) Create(ctx context.Context, profile UserProfile) (*UserProfile, error) {
	if profile.TenantID == "" || profile.UserID == "" || profile.Email == "" {
		return nil, fmt.Errorf("rbac: tenant id, user id and email are required")
	}

	now := nowStamp()
	profile.CreatedAt = now
	profile.UpdatedAt = now

	item, err := attributevalue.MarshalMap(profile)
	if err != nil {
		return nil, fmt.Errorf("marshal user profile: %w", err)
	}

	key := userKey(profile.TenantID, profile.UserID)
	emailKey := userEmailKey(profile.TenantID, profile.Email)

	err = s.kv.TransactWrite(ctx, []types.TransactWriteItem{
		s.kv.TransactPutIfAbsent(key, item),
		s.kv.TransactPutIfAbsent(emailKey, emailPointer(profile.TenantID, profile.UserID, profile.Email)),
	})
	if err != nil {
		switch conditionalCheckIndex(err) {
		case 0:
			return nil, &AlreadyExistsError{Kind: "user profile", Key: key}
		case 1:
			return nil, &AlreadyExistsError{Kind: "user email", Key: emailKey}
		}
		return nil, storageErr(s.logger, "user create", key, err)
	}
	return &profile, nil
}

// GetByID retrieves a profile by user id. Absence is (nil, nil).
func (s *UserProfileStore) GetByID(ctx context.Context, tenantID, userID string) (*UserProfile, error) {
	key := userKey(tenantID, userID)
	item, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, storageErr(s.logger, "user get", key, err)
	}
	if item == nil {
		return nil, nil
	}
	return unmarshalUserProfile(item, key)
}

// GetByEmail resolves the email pointer and retrieves the profile. Absence
// of the email is (nil, nil); a dangling pointer is corruption.
func (s *UserProfileStore) GetByEmail(ctx context.Context, tenantID, email string) (*UserProfile, error) {
	emailKey := userEmailKey(tenantID, email)
	item, err := s.kv.Get(ctx, emailKey)
	if err != nil {
		return nil, storageErr(s.logger, "user email lookup", emailKey, err)
	}
	if item == nil {
		return nil, nil
	}

	idAttr, ok := item["user_id"].(*types.AttributeValueMemberS)
	if !ok || idAttr.Value == "" {
		return nil, &InvalidRecordError{Kind: "user email pointer", Key: emailKey, Reason: "missing user_id"}
	}

	profile, err := s.GetByID(ctx, tenantID, idAttr.Value)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, &InvalidRecordError{Kind: "user email pointer", Key: emailKey, Reason: "pointer references missing user " + idAttr.Value}
	}
	return profile, nil
}

// List returns one page of the tenant's profiles in user-id order.
func (s *UserProfileStore) List(ctx context.Context, tenantID string, page kv.Page) ([]UserProfile, string, error) {
	key := kv.Key{PK: keys.TenantPK(tenantID), SK: keys.UserPrefix}
	result, err := s.kv.QueryPrefix(ctx, key.PK, key.SK, page)
	if err != nil {
		return nil, "", storageErr(s.logger, "user list", key, err)
	}

	profiles := make([]UserProfile, 0, len(result.Items))
	for _, item := range result.Items {
		profile, err := unmarshalUserProfile(item, key)
		if err != nil {
			return nil, "", err
		}
		profiles = append(profiles, *profile)
	}
	return profiles, result.NextToken, nil
}

// Update applies the supplied fields and advances updated_at. Returns
// (false, nil) when the profile does not exist. Changing the email moves
// the uniqueness pointer in the same transaction; a new email already in
// use returns AlreadyExistsError.
func (s *UserProfileStore) Update(ctx context.Context, tenantID, userID string, upd UserProfileUpdate) (bool, error) {
	set := map[string]types.AttributeValue{
		"updated_at": &types.AttributeValueMemberS{Value: nowStamp()},
	}
	var remove []string
	applyString(set, &remove, "first_name", upd.FirstName)
	applyString(set, &remove, "last_name", upd.LastName)
	applyString(set, &remove, "phone_number", upd.PhoneNumber)

	key := userKey(tenantID, userID)

	if upd.Email != nil {
		if *upd.Email == "" {
			return false, fmt.Errorf("rbac: user email cannot be cleared")
		}
		return s.updateWithEmailMove(ctx, tenantID, userID, *upd.Email, set, remove)
	}

	if err := s.kv.UpdateIfPresent(ctx, key, set, remove); err != nil {
		if errors.Is(err, kv.ErrConditionFailed) {
			return false, nil
		}
		return false, storageErr(s.logger, "user update", key, err)
	}
	return true, nil
}

// updateWithEmailMove handles updates that change the email: the old
// pointer is deleted, the new one created, and the profile updated in one
// transaction so uniqueness never has a gap.
func (s *UserProfileStore) updateWithEmailMove(ctx context.Context, tenantID, userID, newEmail string, set map[string]types.AttributeValue, remove []string) (bool, error) {
	current, err := s.GetByID(ctx, tenantID, userID)
	if err != nil {
		return false, err
	}
	if current == nil {
		return false, nil
	}
	if current.Email == newEmail {
		key := userKey(tenantID, userID)
		if err := s.kv.UpdateIfPresent(ctx, key, set, remove); err != nil {
			if errors.Is(err, kv.ErrConditionFailed) {
				return false, nil
			}
			return false, storageErr(s.logger, "user update", key, err)
		}
		return true, nil
	}

	set["email"] = &types.AttributeValueMemberS{Value: newEmail}
	key := userKey(tenantID, userID)
	newEmailKey := userEmailKey(tenantID, newEmail)

	err = s.kv.TransactWrite(ctx, []types.TransactWriteItem{
		s.kv.TransactPutIfAbsent(newEmailKey, emailPointer(tenantID, userID, newEmail)),
		s.kv.TransactDelete(userEmailKey(tenantID, current.Email)),
		s.kv.TransactUpdateIfPresent(key, set, remove),
	})
	if err != nil {
		switch conditionalCheckIndex(err) {
		case 0:
			return false, &AlreadyExistsError{Kind: "user email", Key: newEmailKey}
		case 2:
			// Profile deleted between the read and the transaction.
			return false, nil
		}
		return false, storageErr(s.logger, "user email update", key, err)
	}
	return true, nil
}

// Delete removes a profile and its email pointer transactionally. Returns
// (false, nil) when already absent.
func (s *UserProfileStore) Delete(ctx context.Context, tenantID, userID string) (bool, error) {
	profile, err := s.GetByID(ctx, tenantID, userID)
	if err != nil {
		return false, err
	}
	if profile == nil {
		return false, nil
	}

	key := userKey(tenantID, userID)
	err = s.kv.TransactWrite(ctx, []types.TransactWriteItem{
		s.kv.TransactDeleteIfPresent(key),
		s.kv.TransactDelete(userEmailKey(tenantID, profile.Email)),
	})
	if err != nil {
		if conditionalCheckIndex(err) == 0 {
			return false, nil
		}
		return false, storageErr(s.logger, "user delete", key, err)
	}
	return true, nil
}

func unmarshalUserProfile(item map[string]types.AttributeValue, key kv.Key) (*UserProfile, error) {
	var profile UserProfile
	if err := attributevalue.UnmarshalMap(item, &profile); err != nil {
		return nil, &InvalidRecordError{Kind: "user profile", Key: key, Reason: err.Error()}
	}
	if profile.TenantID == "" || profile.UserID == "" || profile.Email == "" {
		return nil, &InvalidRecordError{Kind: "user profile", Key: key, Reason: "missing required fields"}
	}
	return &profile, nil
}
