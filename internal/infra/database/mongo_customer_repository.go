// internal/infra/database/mongo_customer_repository.go
package database

import (
	"context"
	"fmt"
	"policy_reminder/internal/domain/customer"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	customersCollection = "customers"
	usersCollection     = "users"
)

// customerDocument is the projection of a customer document joined with
// its owner's email.
type customerDocument struct {
	CustomerID    string                   `bson:"customerId"`
	CustomerName  string                   `bson:"customerName"`
	OwnerEmail    string                   `bson:"ownerEmail"`
	HealthDetails []customer.HealthPolicy  `bson:"healthDetails"`
	Vehicles      []customer.VehiclePolicy `bson:"vehicles"`
}

func (d *customerDocument) toDomain() *customer.Customer {
	return &customer.Customer{
		CustomerID:    d.CustomerID,
		CustomerName:  d.CustomerName,
		OwnerEmail:    d.OwnerEmail,
		HealthDetails: d.HealthDetails,
		Vehicles:      d.Vehicles,
	}
}

type MongoCustomerRepository struct {
	customers *mongo.Collection
}

func NewMongoCustomerRepository(client *mongo.Client, database string) *MongoCustomerRepository {
	return &MongoCustomerRepository{customers: client.Database(database).Collection(customersCollection)}
}

// ownerEmailPipeline lists customers in insertion order with the owner's
// email resolved through the userId reference.
func ownerEmailPipeline() mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
		{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: usersCollection},
			{Key: "localField", Value: "userId"},
			{Key: "foreignField", Value: "_id"},
			{Key: "as", Value: "owner"},
		}}},
		{{Key: "$project", Value: bson.D{
			{Key: "_id", Value: 0},
			{Key: "customerId", Value: 1},
			{Key: "customerName", Value: 1},
			{Key: "healthDetails", Value: 1},
			{Key: "vehicles", Value: 1},
			{Key: "ownerEmail", Value: bson.D{{Key: "$arrayElemAt", Value: bson.A{"$owner.email", 0}}}},
		}}},
	}
}

func (r *MongoCustomerRepository) ListWithOwnerEmail(ctx context.Context) ([]*customer.Customer, error) {
	cursor, err := r.customers.Aggregate(ctx, ownerEmailPipeline())
	if err != nil {
		return nil, fmt.Errorf("error aggregating customers with owners: %w", err)
	}
	defer cursor.Close(ctx)

	var customers []*customer.Customer
	for cursor.Next(ctx) {
		var doc customerDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("error decoding customer document: %w", err)
		}
		customers = append(customers, doc.toDomain())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("error iterating customers: %w", err)
	}
	return customers, nil
}

// markItemsQuery builds the positional filter and $set update marking refs
// of one customer. The filter only matches while every addressed index
// still holds a policy object.
func markItemsQuery(customerID string, refs []customer.ItemRef, at time.Time) (bson.D, bson.D, error) {
	if len(refs) == 0 {
		return nil, nil, fmt.Errorf("no items to mark for customer %s", customerID)
	}
	filter := bson.D{{Key: "customerId", Value: customerID}}
	set := bson.D{}
	seen := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		if ref.CustomerID != customerID {
			return nil, nil, fmt.Errorf("%s does not belong to customer %s", ref, customerID)
		}
		field, err := ref.Section.Field()
		if err != nil {
			return nil, nil, err
		}
		if ref.Index < 0 {
			return nil, nil, fmt.Errorf("negative index %d for %s", ref.Index, ref)
		}
		itemPath := fmt.Sprintf("%s.%d", field, ref.Index)
		if _, dup := seen[itemPath]; dup {
			continue
		}
		seen[itemPath] = struct{}{}

		filter = append(filter, bson.E{Key: itemPath, Value: bson.D{{Key: "$type", Value: "object"}}})
		set = append(set,
			bson.E{Key: itemPath + ".reminderSent", Value: true},
			bson.E{Key: itemPath + ".reminderSentAt", Value: at},
		)
	}
	return filter, bson.D{{Key: "$set", Value: set}}, nil
}

func (r *MongoCustomerRepository) MarkItemNotified(ctx context.Context, ref customer.ItemRef, at time.Time) error {
	return r.MarkCustomerItemsNotified(ctx, ref.CustomerID, []customer.ItemRef{ref}, at)
}

func (r *MongoCustomerRepository) MarkCustomerItemsNotified(ctx context.Context, customerID string, refs []customer.ItemRef, at time.Time) error {
	filter, update, err := markItemsQuery(customerID, refs, at)
	if err != nil {
		return err
	}

	res, err := r.customers.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("error marking %d items of customer %s as notified: %w", len(refs), customerID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: customer %s (%d items)", customer.ErrPolicyItemNotFound, customerID, len(refs))
	}
	return nil
}
