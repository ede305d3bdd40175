package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ph0en1x29/FT-sub001/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	assetsCollection     = "assets"
	readingsCollection   = "readings"
	policiesCollection   = "service_policies"
	amendmentsCollection = "hourmeter_amendments"
	jobsCollection       = "maintenance_jobs"
	decisionsCollection  = "service_upgrade_decisions"
)

var errNilCollection = errors.New("mongo collection is nil")

// ErrNoTransactions is returned by CheckTransactions for a standalone server.
var ErrNoTransactions = errors.New("mongo deployment does not support transactions")

// helloReply is the part of the hello command's answer that names the topology.
type helloReply struct {
	SetName string `bson:"setName"`
	Msg     string `bson:"msg"`
}

// check passes replica set members and mongos routers.
func (h helloReply) check() error {
	if h.SetName != "" || h.Msg == "isdbgrid" {
		return nil
	}
	return ErrNoTransactions
}

// CheckTransactions asks the server for its topology and fails unless it is
// a replica set or sharded cluster.
func CheckTransactions(ctx context.Context, client *mongo.Client) error {
	var reply helloReply
	if err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).Decode(&reply); err != nil {
		return fmt.Errorf("hello command: %w", err)
	}
	return reply.check()
}

// ConnectMongo connects to MongoDB and verifies the connection with a ping.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo.Connect error: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo.Ping error: %w", err)
	}
	return client, nil
}

// MongoStore implements Store on a single MongoDB database.
type MongoStore struct {
	client     *mongo.Client
	assets     *MongoAssetCollection
	readings   *MongoReadingCollection
	policies   *MongoPolicyCollection
	amendments *MongoAmendmentCollection
	jobs       *MongoJobCollection
	decisions  *MongoDecisionCollection
}

// NewMongoStore wires every collection of dbName.
func NewMongoStore(client *mongo.Client, dbName string) *MongoStore {
	db := client.Database(dbName)
	return &MongoStore{
		client:     client,
		assets:     &MongoAssetCollection{Collection: db.Collection(assetsCollection)},
		readings:   &MongoReadingCollection{Collection: db.Collection(readingsCollection)},
		policies:   &MongoPolicyCollection{Collection: db.Collection(policiesCollection)},
		amendments: &MongoAmendmentCollection{Collection: db.Collection(amendmentsCollection)},
		jobs:       &MongoJobCollection{Collection: db.Collection(jobsCollection)},
		decisions:  &MongoDecisionCollection{Collection: db.Collection(decisionsCollection)},
	}
}

func (s *MongoStore) Assets() AssetCollection         { return s.assets }
func (s *MongoStore) Readings() ReadingCollection     { return s.readings }
func (s *MongoStore) Policies() PolicyCollection      { return s.policies }
func (s *MongoStore) Amendments() AmendmentCollection { return s.amendments }
func (s *MongoStore) Jobs() JobCollection             { return s.jobs }
func (s *MongoStore) Decisions() DecisionCollection   { return s.decisions }

// RunInTransaction runs fn in a multi-document transaction. Requires a
// replica set or sharded cluster.
func (s *MongoStore) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

// EnsureIndexes creates the indexes the engine relies on, including the
// uniqueness constraints behind the one-open-job and one-decision rules.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	indexes := []struct {
		coll   *mongo.Collection
		models []mongo.IndexModel
	}{
		{s.readings.Collection, []mongo.IndexModel{
			{Keys: bson.D{{Key: "asset_id", Value: 1}, {Key: "recorded_at", Value: 1}}},
		}},
		{s.policies.Collection, []mongo.IndexModel{
			{Keys: bson.D{{Key: "asset_type", Value: 1}}},
		}},
		{s.amendments.Collection, []mongo.IndexModel{
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "requested_at", Value: 1}}},
		}},
		{s.jobs.Collection, []mongo.IndexModel{
			{
				Keys: bson.D{{Key: "asset_id", Value: 1}},
				Options: options.Index().
					SetName("one_open_job_per_asset").
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"open": true}),
			},
		}},
		{s.decisions.Collection, []mongo.IndexModel{
			{Keys: bson.D{{Key: "job_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		}},
	}
	for _, ix := range indexes {
		if _, err := ix.coll.Indexes().CreateMany(ctx, ix.models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", ix.coll.Name(), err)
		}
	}
	return nil
}

// MongoAssetCollection wraps a MongoDB collection for asset operations.
type MongoAssetCollection struct {
	Collection *mongo.Collection
}

// InsertAsset inserts an asset record into the collection.
func (c *MongoAssetCollection) InsertAsset(ctx context.Context, asset models.Asset) (models.Asset, error) {
	if c.Collection == nil {
		return asset, errNilCollection
	}
	if asset.ID.IsZero() {
		asset.ID = primitive.NewObjectID()
	}
	asset.CreatedAt = time.Now()
	asset.UpdatedAt = asset.CreatedAt
	_, err := c.Collection.InsertOne(ctx, asset)
	return asset, err
}

// FindAssetByID finds an asset by its ID.
func (c *MongoAssetCollection) FindAssetByID(ctx context.Context, id primitive.ObjectID) (*models.Asset, error) {
	if c.Collection == nil {
		return nil, errNilCollection
	}
	var asset models.Asset
	err := c.Collection.FindOne(ctx, bson.M{"_id": id}).Decode(&asset)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("asset %s: %w", id.Hex(), models.ErrNotFound)
		}
		return nil, err
	}
	return &asset, nil
}

// FindAssets returns every asset.
func (c *MongoAssetCollection) FindAssets(ctx context.Context) ([]models.Asset, error) {
	if c.Collection == nil {
		return nil, errNilCollection
	}
	cursor, err := c.Collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	var assets []models.Asset
	if err := cursor.All(ctx, &assets); err != nil {
		return nil, err
	}
	return assets, nil
}

// SetHourmeter updates the asset's current hourmeter and last reading time.
func (c *MongoAssetCollection) SetHourmeter(ctx context.Context, id primitive.ObjectID, value float64, at time.Time, onlyIfNewer bool) error {
	if c.Collection == nil {
		return errNilCollection
	}
	filter := bson.M{"_id": id}
	if onlyIfNewer {
		filter["$or"] = bson.A{
			bson.M{"last_reading_at": bson.M{"$exists": false}},
			bson.M{"last_reading_at": nil},
			bson.M{"last_reading_at": bson.M{"$lt": at}},
		}
	}
	update := bson.M{"$set": bson.M{
		"current_hourmeter": value,
		"last_reading_at":   at,
		"updated_at":        time.Now(),
	}}
	result, err := c.Collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		if onlyIfNewer {
			return fmt.Errorf("asset %s: %w", id.Hex(), models.ErrConcurrentUpdate)
		}
		return fmt.Errorf("asset %s: %w", id.Hex(), models.ErrNotFound)
	}
	return nil
}

// SaveCheckState records the outcome of the latest service check.
func (c *MongoAssetCollection) SaveCheckState(ctx context.Context, id primitive.ObjectID, state models.CheckState) error {
	if c.Collection == nil {
		return errNilCollection
	}
	update := bson.M{"$set": bson.M{
		"last_due_status": state.DueStatus,
		"last_stale":      state.Stale,
		"last_checked_at": state.CheckedAt,
	}}
	result, err := c.Collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("asset %s: %w", id.Hex(), models.ErrNotFound)
	}
	return nil
}

// MongoReadingCollection wraps a MongoDB collection for reading operations.
type MongoReadingCollection struct {
	Collection *mongo.Collection
}

// InsertReading inserts a reading record into the collection.
func (c *MongoReadingCollection) InsertReading(ctx context.Context, reading models.Reading) (models.Reading, error) {
	if c.Collection == nil {
		return reading, errNilCollection
	}
	if reading.ID.IsZero() {
		reading.ID = primitive.NewObjectID()
	}
	reading.CreatedAt = time.Now()
	_, err := c.Collection.InsertOne(ctx, reading)
	return reading, err
}

// FindReadings queries an asset's readings since the given time, oldest first.
func (c *MongoReadingCollection) FindReadings(ctx context.Context, assetID primitive.ObjectID, since time.Time) ([]models.Reading, error) {
	if c.Collection == nil {
		return nil, errNilCollection
	}
	filter := bson.M{"asset_id": assetID, "recorded_at": bson.M{"$gte": since}}
	opts := options.Find().SetSort(bson.D{{Key: "recorded_at", Value: 1}})
	cursor, err := c.Collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var readings []models.Reading
	if err := cursor.All(ctx, &readings); err != nil {
		return nil, err
	}
	return readings, nil
}

// FindReadingByID finds a reading by its ID.
func (c *MongoReadingCollection) FindReadingByID(ctx context.Context, id primitive.ObjectID) (*models.Reading, error) {
	if c.Collection == nil {
		return nil, errNilCollection
	}
	var reading models.Reading
	err := c.Collection.FindOne(ctx, bson.M{"_id": id}).Decode(&reading)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("reading %s: %w", id.Hex(), models.ErrNotFound)
		}
		return nil, err
	}
	return &reading, nil
}

// MongoPolicyCollection wraps a MongoDB collection for interval policies.
type MongoPolicyCollection struct {
	Collection *mongo.Collection
}

// InsertPolicy validates and inserts a policy.
func (c *MongoPolicyCollection) InsertPolicy(ctx context.Context, policy models.ServiceIntervalPolicy) (models.ServiceIntervalPolicy, error) {
	if c.Collection == nil {
		return policy, errNilCollection
	}
	if err := policy.Validate(); err != nil {
		return policy, err
	}
	if policy.ID.IsZero() {
		policy.ID = primitive.NewObjectID()
	}
	_, err := c.Collection.InsertOne(ctx, policy)
	return policy, err
}

// FindPolicies returns every policy.
func (c *MongoPolicyCollection) FindPolicies(ctx context.Context) ([]models.ServiceIntervalPolicy, error) {
	return c.find(ctx, bson.M{})
}

// FindPoliciesByType returns the policies for one asset type.
func (c *MongoPolicyCollection) FindPoliciesByType(ctx context.Context, assetType models.AssetType) ([]models.ServiceIntervalPolicy, error) {
	return c.find(ctx, bson.M{"asset_type": assetType})
}

func (c *MongoPolicyCollection) find(ctx context.Context, filter bson.M) ([]models.ServiceIntervalPolicy, error) {
	if c.Collection == nil {
		return nil, errNilCollection
	}
	opts := options.Find().SetSort(bson.D{{Key: "priority", Value: 1}})
	cursor, err := c.Collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var policies []models.ServiceIntervalPolicy
	if err := cursor.All(ctx, &policies); err != nil {
		return nil, err
	}
	return policies, nil
}

// MongoAmendmentCollection wraps a MongoDB collection for amendments.
type MongoAmendmentCollection struct {
	Collection *mongo.Collection
}

// InsertAmendment inserts an amendment record into the collection.
func (c *MongoAmendmentCollection) InsertAmendment(ctx context.Context, amendment models.Amendment) (models.Amendment, error) {
	if c.Collection == nil {
		return amendment, errNilCollection
	}
	if amendment.ID.IsZero() {
		amendment.ID = primitive.NewObjectID()
	}
	_, err := c.Collection.InsertOne(ctx, amendment)
	return amendment, err
}

// FindAmendmentByID finds an amendment by its ID.
func (c *MongoAmendmentCollection) FindAmendmentByID(ctx context.Context, id primitive.ObjectID) (*models.Amendment, error) {
	if c.Collection == nil {
		return nil, errNilCollection
	}
	var amendment models.Amendment
	err := c.Collection.FindOne(ctx, bson.M{"_id": id}).Decode(&amendment)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("amendment %s: %w", id.Hex(), models.ErrNotFound)
		}
		return nil, err
	}
	return &amendment, nil
}

// FindAmendments returns amendments in the given status, oldest request first.
// An empty status returns all of them.
func (c *MongoAmendmentCollection) FindAmendments(ctx context.Context, status models.AmendmentStatus) ([]models.Amendment, error) {
	if c.Collection == nil {
		return nil, errNilCollection
	}
	filter := bson.M{}
	if status != "" {
		filter["status"] = status
	}
	opts := options.Find().SetSort(bson.D{{Key: "requested_at", Value: 1}})
	cursor, err := c.Collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var amendments []models.Amendment
	if err := cursor.All(ctx, &amendments); err != nil {
		return nil, err
	}
	return amendments, nil
}

// ResolveAmendment performs the pending-to-terminal compare-and-set.
func (c *MongoAmendmentCollection) ResolveAmendment(ctx context.Context, id primitive.ObjectID, version int64, res models.Resolution) (*models.Amendment, error) {
	if c.Collection == nil {
		return nil, errNilCollection
	}
	filter := bson.M{"_id": id, "status": models.AmendmentPending, "version": version}
	update := bson.M{
		"$set": bson.M{
			"status":       res.Status,
			"reviewed_by":  res.ReviewedBy,
			"reviewed_at":  res.ReviewedAt,
			"review_notes": res.Notes,
		},
		"$inc": bson.M{"version": 1},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var amendment models.Amendment
	err := c.Collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&amendment)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("amendment %s: %w", id.Hex(), models.ErrAmendmentResolved)
		}
		return nil, err
	}
	return &amendment, nil
}

// MongoJobCollection wraps a MongoDB collection for maintenance jobs.
type MongoJobCollection struct {
	Collection *mongo.Collection
}

// InsertJob inserts a job. The partial unique index rejects a second open job
// for the same asset.
func (c *MongoJobCollection) InsertJob(ctx context.Context, job models.MaintenanceJob) (models.MaintenanceJob, error) {
	if c.Collection == nil {
		return job, errNilCollection
	}
	if job.ID.IsZero() {
		job.ID = primitive.NewObjectID()
	}
	job.Open = job.Status.IsOpen()
	job.CreatedAt = time.Now()
	job.UpdatedAt = job.CreatedAt
	if _, err := c.Collection.InsertOne(ctx, job); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return job, fmt.Errorf("asset %s: %w", job.AssetID.Hex(), models.ErrOpenJobExists)
		}
		return job, err
	}
	return job, nil
}

// FindJobByID finds a job by its ID.
func (c *MongoJobCollection) FindJobByID(ctx context.Context, id primitive.ObjectID) (*models.MaintenanceJob, error) {
	if c.Collection == nil {
		return nil, errNilCollection
	}
	var job models.MaintenanceJob
	err := c.Collection.FindOne(ctx, bson.M{"_id": id}).Decode(&job)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("job %s: %w", id.Hex(), models.ErrNotFound)
		}
		return nil, err
	}
	return &job, nil
}

// HasOpenJob reports whether the asset has a scheduled or in-progress job.
func (c *MongoJobCollection) HasOpenJob(ctx context.Context, assetID primitive.ObjectID) (bool, error) {
	if c.Collection == nil {
		return false, errNilCollection
	}
	n, err := c.Collection.CountDocuments(ctx, bson.M{"asset_id": assetID, "open": true}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpdateJobType changes the type of a job.
func (c *MongoJobCollection) UpdateJobType(ctx context.Context, id primitive.ObjectID, jobType models.JobType) error {
	if c.Collection == nil {
		return errNilCollection
	}
	update := bson.M{"$set": bson.M{"job_type": jobType, "updated_at": time.Now()}}
	result, err := c.Collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("job %s: %w", id.Hex(), models.ErrNotFound)
	}
	return nil
}

// MongoDecisionCollection wraps a MongoDB collection for upgrade decisions.
type MongoDecisionCollection struct {
	Collection *mongo.Collection
}

// InsertDecision appends a decision to the log.
func (c *MongoDecisionCollection) InsertDecision(ctx context.Context, decision models.ServiceUpgradeDecision) (models.ServiceUpgradeDecision, error) {
	if c.Collection == nil {
		return decision, errNilCollection
	}
	if decision.ID.IsZero() {
		decision.ID = primitive.NewObjectID()
	}
	if _, err := c.Collection.InsertOne(ctx, decision); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return decision, fmt.Errorf("job %s: %w", decision.JobID.Hex(), models.ErrDecisionExists)
		}
		return decision, err
	}
	return decision, nil
}

// FindDecisionByJob returns the decision recorded for a job.
func (c *MongoDecisionCollection) FindDecisionByJob(ctx context.Context, jobID primitive.ObjectID) (*models.ServiceUpgradeDecision, error) {
	if c.Collection == nil {
		return nil, errNilCollection
	}
	var decision models.ServiceUpgradeDecision
	err := c.Collection.FindOne(ctx, bson.M{"job_id": jobID}).Decode(&decision)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("decision for job %s: %w", jobID.Hex(), models.ErrNotFound)
		}
		return nil, err
	}
	return &decision, nil
}
