// Package dynamo implements the listing repository against DynamoDB.
//
// Layout is a single table keyed by PK. Each listing lives under
// "LISTING#<id>"; two claim items, "EMAIL#<email>" and "USER#<user id>",
// pin the identity to the listing id. Insert writes all three in one
// transaction with attribute_not_exists conditions, so identity uniqueness
// holds without a scan; a cancelled transaction surfaces as
// listing.ErrDuplicate.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/amberpages/classifieds/internal/domain"
	"github.com/amberpages/classifieds/internal/service/listing"
)

type dynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// ListingRepo implements listing.Repository against DynamoDB.
type ListingRepo struct {
	client    dynamoAPI
	tableName string
}

// NewListingRepo creates a repository over an existing DynamoDB client.
func NewListingRepo(client *dynamodb.Client, tableName string) *ListingRepo {
	return &ListingRepo{client: client, tableName: tableName}
}

// NewListingRepoFromConfig loads AWS config (optionally with a shared
// profile) and creates the repository.
func NewListingRepoFromConfig(ctx context.Context, tableName, region, profile string) (*ListingRepo, error) {
	var cfg aws.Config
	var err error
	if profile != "" {
		cfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(region),
			awsconfig.WithSharedConfigProfile(profile),
		)
	} else {
		cfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	}
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewListingRepo(dynamodb.NewFromConfig(cfg), tableName), nil
}

// dynamoListing is the stored shape of a listing item.
type dynamoListing struct {
	PK           string   `dynamodbav:"PK"`
	ID           string   `dynamodbav:"ID"`
	Email        string   `dynamodbav:"Email"`
	UserID       string   `dynamodbav:"UserID"`
	Title        string   `dynamodbav:"Title"`
	Category     string   `dynamodbav:"Category"`
	Description  string   `dynamodbav:"Description"`
	PriceCents   int64    `dynamodbav:"PriceCents"`
	City         string   `dynamodbav:"City"`
	Region       string   `dynamodbav:"Region"`
	Country      string   `dynamodbav:"Country"`
	ContactPhone string   `dynamodbav:"ContactPhone"`
	MediaKeys    []string `dynamodbav:"MediaKeys,omitempty"`
	Status       string   `dynamodbav:"Status"`
	CreatedAt    string   `dynamodbav:"CreatedAt"`
	UpdatedAt    string   `dynamodbav:"UpdatedAt"`
	Version      int64    `dynamodbav:"Version"`
}

// claim pins an identity field value to a listing id.
type claim struct {
	PK        string `dynamodbav:"PK"`
	ListingID string `dynamodbav:"ListingID"`
}

func listingKey(id string) string  { return "LISTING#" + id }
func emailKey(email string) string { return "EMAIL#" + email }
func userKey(userID string) string { return "USER#" + userID }

func (r *ListingRepo) Get(ctx context.Context, id string) (*domain.Listing, error) {
	item, err := r.getItem(ctx, listingKey(id))
	if err != nil {
		return nil, fmt.Errorf("get listing: %w", err)
	}
	if item == nil {
		return nil, listing.ErrNotFound
	}
	return unmarshalListing(item)
}

func (r *ListingRepo) FindByField(ctx context.Context, field, value string) (*domain.Listing, error) {
	var pk string
	switch field {
	case domain.FieldEmail:
		pk = emailKey(value)
	case domain.FieldUserID:
		pk = userKey(value)
	default:
		return nil, fmt.Errorf("unsupported lookup field %q", field)
	}

	item, err := r.getItem(ctx, pk)
	if err != nil {
		return nil, fmt.Errorf("find listing by %s: %w", field, err)
	}
	if item == nil {
		return nil, nil
	}
	var c claim
	if err := attributevalue.UnmarshalMap(item, &c); err != nil {
		return nil, fmt.Errorf("unmarshal claim: %w", err)
	}

	rec, err := r.Get(ctx, c.ListingID)
	if errors.Is(err, listing.ErrNotFound) {
		// Claim outlived its listing; treat as absent.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if rec.Status == domain.ListingRemoved {
		// A removed listing frees its identity; its claims are stale.
		return nil, nil
	}
	return rec, nil
}

func (r *ListingRepo) Insert(ctx context.Context, rec *domain.Listing) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	item, err := attributevalue.MarshalMap(marshalListing(rec))
	if err != nil {
		return fmt.Errorf("marshal listing: %w", err)
	}
	emailClaim, err := attributevalue.MarshalMap(claim{PK: emailKey(rec.Email), ListingID: rec.ID})
	if err != nil {
		return fmt.Errorf("marshal email claim: %w", err)
	}
	userClaim, err := attributevalue.MarshalMap(claim{PK: userKey(rec.UserID), ListingID: rec.ID})
	if err != nil {
		return fmt.Errorf("marshal user claim: %w", err)
	}

	err = r.transactInsert(ctx, item, emailClaim, userClaim, true)
	if errors.Is(err, listing.ErrDuplicate) {
		// The blocking claims may be stale: their listing is gone or
		// removed, which frees the identity. Verify through the same
		// resolution the gate uses, then take the claims over.
		for _, field := range []string{domain.FieldEmail, domain.FieldUserID} {
			value := rec.Email
			if field == domain.FieldUserID {
				value = rec.UserID
			}
			live, ferr := r.FindByField(ctx, field, value)
			if ferr != nil {
				return ferr
			}
			if live != nil {
				return listing.ErrDuplicate
			}
		}
		err = r.transactInsert(ctx, item, emailClaim, userClaim, false)
	}
	return err
}

// transactInsert writes the listing item and both identity claims in one
// transaction. The listing put always requires a fresh PK; claim puts do so
// only when claimsMustBeFresh is set (cleared when taking over stale claims).
func (r *ListingRepo) transactInsert(ctx context.Context, item, emailClaim, userClaim map[string]types.AttributeValue, claimsMustBeFresh bool) error {
	notExists := aws.String("attribute_not_exists(PK)")
	var claimCond *string
	if claimsMustBeFresh {
		claimCond = notExists
	}
	_, err := r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{TableName: aws.String(r.tableName), Item: item, ConditionExpression: notExists}},
			{Put: &types.Put{TableName: aws.String(r.tableName), Item: emailClaim, ConditionExpression: claimCond}},
			{Put: &types.Put{TableName: aws.String(r.tableName), Item: userClaim, ConditionExpression: claimCond}},
		},
	})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) {
			for _, reason := range canceled.CancellationReasons {
				if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
					return listing.ErrDuplicate
				}
			}
		}
		return fmt.Errorf("insert listing: %w", err)
	}
	return nil
}

func (r *ListingRepo) Update(ctx context.Context, id string, rec *domain.Listing) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 map[string]types.AttributeValue{"PK": &types.AttributeValueMemberS{Value: listingKey(id)}},
		ConditionExpression: aws.String("attribute_exists(PK)"),
		UpdateExpression: aws.String(`SET Title = :title, Category = :category,
			Description = :description, PriceCents = :price, City = :city,
			Region = :region, Country = :country, ContactPhone = :phone,
			MediaKeys = :media, #st = :status, UpdatedAt = :updated
			ADD Version :one`),
		ExpressionAttributeNames: map[string]string{"#st": "Status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":title":       &types.AttributeValueMemberS{Value: rec.Title},
			":category":    &types.AttributeValueMemberS{Value: rec.Category},
			":description": &types.AttributeValueMemberS{Value: rec.Description},
			":price":       &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", rec.PriceCents)},
			":city":        &types.AttributeValueMemberS{Value: rec.City},
			":region":      &types.AttributeValueMemberS{Value: rec.Region},
			":country":     &types.AttributeValueMemberS{Value: rec.Country},
			":phone":       &types.AttributeValueMemberS{Value: rec.ContactPhone},
			":media":       mustMarshalList(rec.MediaKeys),
			":status":      &types.AttributeValueMemberS{Value: string(rec.Status)},
			":updated":     &types.AttributeValueMemberS{Value: rec.UpdatedAt.UTC().Format(time.RFC3339Nano)},
			":one":         &types.AttributeValueMemberN{Value: "1"},
		},
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			return listing.ErrNotFound
		}
		return fmt.Errorf("update listing: %w", err)
	}
	return nil
}

func (r *ListingRepo) getItem(ctx context.Context, pk string) (map[string]types.AttributeValue, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            map[string]types.AttributeValue{"PK": &types.AttributeValueMemberS{Value: pk}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	return out.Item, nil
}

func marshalListing(rec *domain.Listing) dynamoListing {
	return dynamoListing{
		PK:           listingKey(rec.ID),
		ID:           rec.ID,
		Email:        rec.Email,
		UserID:       rec.UserID,
		Title:        rec.Title,
		Category:     rec.Category,
		Description:  rec.Description,
		PriceCents:   rec.PriceCents,
		City:         rec.City,
		Region:       rec.Region,
		Country:      rec.Country,
		ContactPhone: rec.ContactPhone,
		MediaKeys:    rec.MediaKeys,
		Status:       string(rec.Status),
		CreatedAt:    rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:    rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
		Version:      rec.Version,
	}
}

func unmarshalListing(item map[string]types.AttributeValue) (*domain.Listing, error) {
	var stored dynamoListing
	if err := attributevalue.UnmarshalMap(item, &stored); err != nil {
		return nil, fmt.Errorf("unmarshal listing: %w", err)
	}
	createdAt, _ := time.Parse(time.RFC3339Nano, stored.CreatedAt)
	updatedAt, _ := time.Parse(time.RFC3339Nano, stored.UpdatedAt)
	return &domain.Listing{
		ID:           stored.ID,
		Email:        stored.Email,
		UserID:       stored.UserID,
		Title:        stored.Title,
		Category:     stored.Category,
		Description:  stored.Description,
		PriceCents:   stored.PriceCents,
		City:         stored.City,
		Region:       stored.Region,
		Country:      stored.Country,
		ContactPhone: stored.ContactPhone,
		MediaKeys:    stored.MediaKeys,
		Status:       domain.ListingStatus(stored.Status),
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
		Version:      stored.Version,
	}, nil
}

func mustMarshalList(keys []string) types.AttributeValue {
	if len(keys) == 0 {
		return &types.AttributeValueMemberL{Value: []types.AttributeValue{}}
	}
	av, err := attributevalue.MarshalList(keys)
	if err != nil {
		return &types.AttributeValueMemberL{Value: []types.AttributeValue{}}
	}
	return &types.AttributeValueMemberL{Value: av}
}
