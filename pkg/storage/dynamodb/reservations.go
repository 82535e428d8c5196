package dynamodb

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/advisr/consult-billing/pkg/models"
	"github.com/advisr/consult-billing/pkg/storage"
)

const accountReservationsIndex = "account_id-index"

// PutReservation creates or replaces a balance hold.
func (s *Store) PutReservation(ctx context.Context, reservation *models.Reservation) error {
	reservationAV, err := attributevalue.MarshalMap(reservation)
	if err != nil {
		return fmt.Errorf("failed to marshal reservation: %w", err)
	}

	_, err = s.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.ReservationsTableName),
		Item:      reservationAV,
	})
	if err != nil {
		return fmt.Errorf("failed to put reservation in DynamoDB: %w", err)
	}
	return nil
}

// GetReservation retrieves a balance hold by its ID.
func (s *Store) GetReservation(ctx context.Context, reservationID string) (*models.Reservation, error) {
	key, err := attributevalue.MarshalMap(map[string]string{"reservation_id": reservationID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal reservation ID: %w", err)
	}

	result, err := s.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.ReservationsTableName),
		Key:       key,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation from DynamoDB: %w", err)
	}
	if result.Item == nil {
		return nil, storage.ErrNotFound
	}

	var reservation models.Reservation
	if err := attributevalue.UnmarshalMap(result.Item, &reservation); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reservation: %w", err)
	}
	return &reservation, nil
}

// DeleteReservation removes a balance hold. Deleting a reservation that is
// already gone is not an error; release and consume paths race the expiry
// sweep.
func (s *Store) DeleteReservation(ctx context.Context, reservationID string) error {
	key, err := attributevalue.MarshalMap(map[string]string{"reservation_id": reservationID})
	if err != nil {
		return fmt.Errorf("failed to marshal reservation ID: %w", err)
	}

	_, err = s.Client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.ReservationsTableName),
		Key:       key,
	})
	if err != nil {
		return fmt.Errorf("failed to delete reservation from DynamoDB: %w", err)
	}
	return nil
}

// ListReservationsByAccount retrieves all holds against an account.
func (s *Store) ListReservationsByAccount(ctx context.Context, accountID string) ([]models.Reservation, error) {
	result, err := s.Client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.ReservationsTableName),
		IndexName:              aws.String(accountReservationsIndex),
		KeyConditionExpression: aws.String("account_id = :account_id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":account_id": &types.AttributeValueMemberS{Value: accountID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations by account: %w", err)
	}

	var reservations []models.Reservation
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &reservations); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reservations: %w", err)
	}
	return reservations, nil
}

// ListExpiredReservations retrieves holds whose expiry lapsed before the
// cutoff. The recovery sweep releases these so abandoned pending sessions
// stop pinning funds.
func (s *Store) ListExpiredReservations(ctx context.Context, cutoff time.Time) ([]models.Reservation, error) {
	cutoffAV, err := attributevalue.Marshal(cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cutoff: %w", err)
	}

	result, err := s.Client.Scan(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(s.ReservationsTableName),
		FilterExpression: aws.String("expires_at <= :cutoff"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cutoff": cutoffAV,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan expired reservations: %w", err)
	}

	var reservations []models.Reservation
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &reservations); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reservations: %w", err)
	}
	return reservations, nil
}
