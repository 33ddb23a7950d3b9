// Package tokenstore persists linked cloud-storage accounts and their OAuth
// tokens in DynamoDB, keyed by user with one row per (provider, email).
// Refresh tokens are encrypted at rest through crypto.Encryptor.
package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/epicbytes/drivehub/backend/internal/crypto"
	"github.com/epicbytes/drivehub/backend/internal/model"
)

// ErrAccountNotFound is returned when no stored token row matches the
// requested account.
var ErrAccountNotFound = errors.New("linked account not found")

// EmailIndexName is the GSI used to find rows by account email regardless
// of owning user, needed for link supersession.
const EmailIndexName = "account_email-index"

// accountItem is the DynamoDB row shape. The table key is
// (user_id, account_key) where account_key is "<provider>#<email>".
type accountItem struct {
	UserID                string    `dynamodbav:"user_id"`
	AccountKey            string    `dynamodbav:"account_key"`
	ID                    string    `dynamodbav:"id"`
	Provider              string    `dynamodbav:"provider"`
	AccountEmail          string    `dynamodbav:"account_email"`
	AccessToken           string    `dynamodbav:"access_token"`
	EncryptedRefreshToken string    `dynamodbav:"encrypted_refresh_token"`
	UpdatedAt             time.Time `dynamodbav:"updated_at"`
}

func accountKey(p model.Provider, email string) string {
	return string(p) + "#" + email
}

// Service reads and writes linked accounts. If the DynamoDB client is nil it
// falls back to an in-memory slice, used by tests and DEV_MODE.
type Service struct {
	client    *dynamodb.Client
	tableName string
	encryptor crypto.Encryptor

	// In-memory fallback
	mu      sync.RWMutex
	records []model.LinkedAccount
}

// NewService creates a token store backed by the given DynamoDB table.
func NewService(client *dynamodb.Client, tableName string, encryptor crypto.Encryptor) *Service {
	return &Service{
		client:    client,
		tableName: tableName,
		encryptor: encryptor,
	}
}

// ListByUser returns every linked account owned by userID, in stored order.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]model.LinkedAccount, error) {
	if s.client == nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
		accounts := []model.LinkedAccount{}
		for _, r := range s.records {
			if r.UserID == userID {
				accounts = append(accounts, r)
			}
		}
		return accounts, nil
	}

	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("user_id = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query linked accounts: %w", err)
	}

	accounts := make([]model.LinkedAccount, 0, len(out.Items))
	for _, item := range out.Items {
		var row accountItem
		if err := attributevalue.UnmarshalMap(item, &row); err != nil {
			return nil, fmt.Errorf("failed to unmarshal linked account: %w", err)
		}
		acct, err := s.fromItem(ctx, row)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acct)
	}
	return accounts, nil
}

// Get returns the linked account for (userID, provider, email).
func (s *Service) Get(ctx context.Context, userID string, p model.Provider, email string) (*model.LinkedAccount, error) {
	if s.client == nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
		for _, r := range s.records {
			if r.UserID == userID && r.Provider == p && r.AccountEmail == email {
				acct := r
				return &acct, nil
			}
		}
		return nil, ErrAccountNotFound
	}

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.key(userID, p, email),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get linked account: %w", err)
	}
	if out.Item == nil {
		return nil, ErrAccountNotFound
	}

	var row accountItem
	if err := attributevalue.UnmarshalMap(out.Item, &row); err != nil {
		return nil, fmt.Errorf("failed to unmarshal linked account: %w", err)
	}
	acct, err := s.fromItem(ctx, row)
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// Save stores a newly linked account. Any prior row for the same
// (provider, email) is superseded: deletes and the new put run inside one
// TransactWriteItems call, so a reader never observes the email with no
// token row.
func (s *Service) Save(ctx context.Context, acct model.LinkedAccount) error {
	if acct.ID == "" {
		acct.ID = uuid.New().String()
	}
	acct.UpdatedAt = time.Now()

	if s.client == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		kept := s.records[:0]
		for _, r := range s.records {
			if r.Provider == acct.Provider && r.AccountEmail == acct.AccountEmail {
				continue
			}
			kept = append(kept, r)
		}
		s.records = append(kept, acct)
		return nil
	}

	row, err := s.toItem(ctx, acct)
	if err != nil {
		return err
	}
	item, err := attributevalue.MarshalMap(row)
	if err != nil {
		return fmt.Errorf("failed to marshal linked account: %w", err)
	}

	stale, err := s.findByEmail(ctx, acct.Provider, acct.AccountEmail)
	if err != nil {
		return err
	}

	writes := []types.TransactWriteItem{}
	newKey := accountKey(acct.Provider, acct.AccountEmail)
	for _, old := range stale {
		// The put below overwrites the row with the identical key; a
		// transaction may not touch the same item twice.
		if old.UserID == acct.UserID && old.AccountKey == newKey {
			continue
		}
		writes = append(writes, types.TransactWriteItem{
			Delete: &types.Delete{
				TableName: aws.String(s.tableName),
				Key:       s.key(old.UserID, model.Provider(old.Provider), old.AccountEmail),
			},
		})
	}
	writes = append(writes, types.TransactWriteItem{
		Put: &types.Put{
			TableName: aws.String(s.tableName),
			Item:      item,
		},
	})

	if _, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: writes,
	}); err != nil {
		return fmt.Errorf("failed to save linked account: %w", err)
	}
	return nil
}

// UpdateAccessToken replaces the stored access token for an existing row and
// bumps updated_at. Only the refresh path writes through here, keeping token
// writes single-sourced.
func (s *Service) UpdateAccessToken(ctx context.Context, userID string, p model.Provider, email, accessToken string) error {
	now := time.Now()

	if s.client == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i := range s.records {
			r := &s.records[i]
			if r.UserID == userID && r.Provider == p && r.AccountEmail == email {
				r.AccessToken = accessToken
				r.UpdatedAt = now
				return nil
			}
		}
		return ErrAccountNotFound
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 s.key(userID, p, email),
		UpdateExpression:    aws.String("SET access_token = :tok, updated_at = :now"),
		ConditionExpression: aws.String("attribute_exists(account_key)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":tok": &types.AttributeValueMemberS{Value: accessToken},
			":now": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("failed to update access token: %w", err)
	}
	return nil
}

// Delete removes the row for (userID, provider, email) on explicit unlink.
func (s *Service) Delete(ctx context.Context, userID string, p model.Provider, email string) error {
	if s.client == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, r := range s.records {
			if r.UserID == userID && r.Provider == p && r.AccountEmail == email {
				s.records = append(s.records[:i], s.records[i+1:]...)
				return nil
			}
		}
		return ErrAccountNotFound
	}

	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.key(userID, p, email),
	})
	if err != nil {
		return fmt.Errorf("failed to delete linked account: %w", err)
	}
	return nil
}

// findByEmail queries the email GSI for rows matching (provider, email),
// across all users.
func (s *Service) findByEmail(ctx context.Context, p model.Provider, email string) ([]accountItem, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String(EmailIndexName),
		KeyConditionExpression: aws.String("account_email = :email"),
		FilterExpression:       aws.String("#prov = :prov"),
		ExpressionAttributeNames: map[string]string{
			"#prov": "provider",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":email": &types.AttributeValueMemberS{Value: email},
			":prov":  &types.AttributeValueMemberS{Value: string(p)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts by email: %w", err)
	}

	rows := make([]accountItem, 0, len(out.Items))
	for _, item := range out.Items {
		var row accountItem
		if err := attributevalue.UnmarshalMap(item, &row); err != nil {
			return nil, fmt.Errorf("failed to unmarshal linked account: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *Service) key(userID string, p model.Provider, email string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"user_id":     &types.AttributeValueMemberS{Value: userID},
		"account_key": &types.AttributeValueMemberS{Value: accountKey(p, email)},
	}
}

func (s *Service) toItem(ctx context.Context, acct model.LinkedAccount) (accountItem, error) {
	row := accountItem{
		UserID:       acct.UserID,
		AccountKey:   accountKey(acct.Provider, acct.AccountEmail),
		ID:           acct.ID,
		Provider:     string(acct.Provider),
		AccountEmail: acct.AccountEmail,
		AccessToken:  acct.AccessToken,
		UpdatedAt:    acct.UpdatedAt,
	}
	if acct.RefreshToken != "" {
		encrypted, err := s.encryptor.Encrypt(ctx, acct.RefreshToken)
		if err != nil {
			return accountItem{}, fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
		row.EncryptedRefreshToken = encrypted
	}
	return row, nil
}

func (s *Service) fromItem(ctx context.Context, row accountItem) (model.LinkedAccount, error) {
	acct := model.LinkedAccount{
		ID:           row.ID,
		UserID:       row.UserID,
		Provider:     model.Provider(row.Provider),
		AccountEmail: row.AccountEmail,
		AccessToken:  row.AccessToken,
		UpdatedAt:    row.UpdatedAt,
	}
	if row.EncryptedRefreshToken != "" {
		refreshToken, err := s.encryptor.Decrypt(ctx, row.EncryptedRefreshToken)
		if err != nil {
			return model.LinkedAccount{}, fmt.Errorf("failed to decrypt refresh token: %w", err)
		}
		acct.RefreshToken = refreshToken
	}
	return acct, nil
}
