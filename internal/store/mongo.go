package store

import (
	"context"
	"encoding/base64"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/sells-group/profile-resolver/internal/model"
)

// Field names of the company collection documents.
const (
	fieldID           = "_id"
	fieldTicker       = "ticker"
	fieldCompanyName  = "company_name"
	fieldDate         = "date"
	fieldResolver     = "wiki_resolver"
	fieldURL          = "wiki_url"
	fieldVCard        = "wiki_vcard"
	fieldContent      = "wiki_content"
	fieldResolverMeta = "wiki_resolver_meta"
)

// collection is the subset of *mongo.Collection the store uses.
type collection interface {
	Find(ctx context.Context, filter any, opts ...*options.FindOptions) (*mongo.Cursor, error)
	UpdateOne(ctx context.Context, filter any, update any, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	UpdateMany(ctx context.Context, filter any, update any, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	Aggregate(ctx context.Context, pipeline any, opts ...*options.AggregateOptions) (*mongo.Cursor, error)
}

// MongoStore implements Store on a MongoDB collection whose documents use
// the ticker/company_name/wiki_* layout.
type MongoStore struct {
	client *mongo.Client
	coll   collection
}

// NewMongo connects to uri and binds the store to database.collection.
func NewMongo(ctx context.Context, uri, database, coll string) (*MongoStore, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(5 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, eris.Wrap(err, "mongo: connect")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, eris.Wrap(err, "mongo: ping")
	}
	return &MongoStore{
		client: client,
		coll:   client.Database(database).Collection(coll),
	}, nil
}

// Migrate creates the lookup indexes. Documents are schemaless, so there is
// nothing else to migrate.
func (s *MongoStore) Migrate(ctx context.Context) error {
	c, ok := s.coll.(*mongo.Collection)
	if !ok {
		return nil
	}
	_, err := c.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: fieldTicker, Value: 1}, {Key: fieldDate, Value: 1}}},
		{Keys: bson.D{{Key: fieldResolver, Value: 1}}},
	})
	return eris.Wrap(err, "mongo: create indexes")
}

func (s *MongoStore) Ping(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return eris.Wrap(s.client.Ping(ctx, readpref.Primary()), "mongo: ping")
}

func (s *MongoStore) Close() error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return eris.Wrap(s.client.Disconnect(ctx), "mongo: disconnect")
}

func (s *MongoStore) Unresolved(ctx context.Context, limit int) ([]model.Record, error) {
	filter := bson.M{fieldResolver: bson.M{"$exists": false}}
	opts := options.Find().
		SetSort(bson.D{{Key: fieldID, Value: 1}}).
		SetLimit(int64(limit))

	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, eris.Wrap(err, "mongo: find unresolved")
	}
	return decodeRecords(ctx, cur)
}

func (s *MongoStore) Resolve(ctx context.Context, id string, out model.Outcome) error {
	key, err := decodeID(id)
	if err != nil {
		return eris.Wrapf(err, "mongo: resolve record %s", id)
	}
	filter := bson.M{
		fieldID:       key,
		fieldResolver: bson.M{"$exists": false},
	}
	update := bson.M{"$set": bson.M{
		fieldResolver: string(out.Resolver),
		fieldURL:      out.SourceURL,
		fieldVCard:    out.IdentityCard,
		fieldContent:  out.Narrative,
		fieldResolverMeta: bson.M{
			"timestamp": out.ResolvedAt.UTC(),
			"method":    out.Meta.Method,
			"run_id":    out.Meta.RunID,
		},
	}}

	res, err := s.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return eris.Wrapf(err, "mongo: resolve record %s", id)
	}
	if res.MatchedCount == 0 {
		return eris.Wrapf(ErrAlreadyResolved, "mongo: record %s", id)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, symbol string) ([]model.Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: fieldDate, Value: 1}, {Key: fieldID, Value: 1}})
	cur, err := s.coll.Find(ctx, bson.M{fieldTicker: symbol}, opts)
	if err != nil {
		return nil, eris.Wrapf(err, "mongo: get %s", symbol)
	}
	return decodeRecords(ctx, cur)
}

func (s *MongoStore) Reset(ctx context.Context, symbol string) (int, error) {
	filter := bson.M{
		fieldTicker:   symbol,
		fieldResolver: bson.M{"$exists": true},
	}
	update := bson.M{"$unset": bson.M{
		fieldResolver:     "",
		fieldURL:          "",
		fieldVCard:        "",
		fieldContent:      "",
		fieldResolverMeta: "",
	}}
	res, err := s.coll.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, eris.Wrapf(err, "mongo: reset %s", symbol)
	}
	return int(res.ModifiedCount), nil
}

func (s *MongoStore) Stats(ctx context.Context) (*Stats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$" + fieldResolver},
			{Key: "n", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
	cur, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, eris.Wrap(err, "mongo: stats")
	}

	var groups []struct {
		Resolver bson.RawValue `bson:"_id"`
		N        int64         `bson:"n"`
	}
	if err := cur.All(ctx, &groups); err != nil {
		return nil, eris.Wrap(err, "mongo: decode stats")
	}

	st := newStats()
	for _, g := range groups {
		tag, _ := g.Resolver.StringValueOK()
		st.add(model.ResolverTag(tag), int(g.N))
	}
	return st, nil
}

func (s *MongoStore) Upsert(ctx context.Context, recs []model.Record) (int, error) {
	inserted := 0
	for _, r := range recs {
		if err := validateUpsert(r); err != nil {
			return inserted, err
		}
		filter := bson.M{fieldTicker: r.Symbol}
		if r.Partition != "" {
			filter[fieldDate] = r.Partition
		} else {
			filter[fieldDate] = bson.M{"$exists": false}
		}
		update := bson.M{"$set": bson.M{fieldCompanyName: r.Name}}

		res, err := s.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
		if err != nil {
			return inserted, eris.Wrapf(err, "mongo: upsert record %s", r.Symbol)
		}
		if res.UpsertedCount > 0 {
			inserted++
		}
	}
	return inserted, nil
}

// mongoRecord mirrors a collection document. Identity and date fields are
// kept raw because legacy documents store them with mixed BSON types.
type mongoRecord struct {
	ID           bson.RawValue     `bson:"_id"`
	Ticker       string            `bson:"ticker"`
	CompanyName  string            `bson:"company_name"`
	Date         bson.RawValue     `bson:"date"`
	WikiResolver string            `bson:"wiki_resolver"`
	WikiURL      string            `bson:"wiki_url"`
	WikiVCard    map[string]string `bson:"wiki_vcard"`
	WikiContent  string            `bson:"wiki_content"`
	Meta         *struct {
		Timestamp bson.RawValue `bson:"timestamp"`
		Method    string        `bson:"method"`
		RunID     string        `bson:"run_id"`
	} `bson:"wiki_resolver_meta"`
}

func decodeRecords(ctx context.Context, cur *mongo.Cursor) ([]model.Record, error) {
	var docs []mongoRecord
	if err := cur.All(ctx, &docs); err != nil {
		return nil, eris.Wrap(err, "mongo: decode records")
	}

	out := make([]model.Record, 0, len(docs))
	for _, d := range docs {
		rec := model.Record{
			ID:        encodeID(d.ID),
			Symbol:    d.Ticker,
			Partition: rawString(d.Date),
			Name:      d.CompanyName,
		}
		if d.WikiResolver != "" {
			o := &model.Outcome{
				Resolver:     model.ResolverTag(d.WikiResolver),
				SourceURL:    d.WikiURL,
				IdentityCard: model.IdentityCard(d.WikiVCard),
				Narrative:    d.WikiContent,
			}
			if d.Meta != nil {
				o.ResolvedAt = rawTime(d.Meta.Timestamp)
				o.Meta = model.OutcomeMeta{Method: d.Meta.Method, RunID: d.Meta.RunID}
			}
			rec.Resolution = o
		}
		out = append(out, rec)
	}
	return out, nil
}

// Record IDs carry the BSON type of _id. ObjectIDs are their hex form and
// ordinary strings pass through; anything else is tagged with a prefix.
const (
	idString = "str:"
	idInt32  = "int:"
	idInt64  = "long:"
	idRaw    = "bson:"
)

// encodeID renders an _id as a Record.ID that decodeID maps back to the
// same BSON value.
func encodeID(v bson.RawValue) string {
	switch v.Type {
	case bsontype.ObjectID:
		return v.ObjectID().Hex()
	case bsontype.String:
		str := v.StringValue()
		if _, err := primitive.ObjectIDFromHex(str); err == nil || hasIDPrefix(str) {
			return idString + str
		}
		return str
	case bsontype.Int32:
		return idInt32 + strconv.Itoa(int(v.Int32()))
	case bsontype.Int64:
		return idInt64 + strconv.FormatInt(v.Int64(), 10)
	}
	doc, err := bson.Marshal(bson.D{{Key: fieldID, Value: v}})
	if err != nil {
		return ""
	}
	return idRaw + base64.RawURLEncoding.EncodeToString(doc)
}

func decodeID(id string) (any, error) {
	switch {
	case strings.HasPrefix(id, idString):
		return strings.TrimPrefix(id, idString), nil
	case strings.HasPrefix(id, idInt32):
		n, err := strconv.ParseInt(strings.TrimPrefix(id, idInt32), 10, 32)
		if err != nil {
			return nil, eris.Wrap(err, "mongo: decode int id")
		}
		return int32(n), nil
	case strings.HasPrefix(id, idInt64):
		n, err := strconv.ParseInt(strings.TrimPrefix(id, idInt64), 10, 64)
		if err != nil {
			return nil, eris.Wrap(err, "mongo: decode long id")
		}
		return n, nil
	case strings.HasPrefix(id, idRaw):
		doc, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(id, idRaw))
		if err != nil {
			return nil, eris.Wrap(err, "mongo: decode raw id")
		}
		v, err := bson.Raw(doc).LookupErr(fieldID)
		if err != nil {
			return nil, eris.Wrap(err, "mongo: decode raw id")
		}
		return v, nil
	}
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return oid, nil
	}
	return id, nil
}

func hasIDPrefix(s string) bool {
	for _, p := range []string{idString, idInt32, idInt64, idRaw} {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func rawString(v bson.RawValue) string {
	switch v.Type {
	case bsontype.ObjectID:
		return v.ObjectID().Hex()
	case bsontype.String:
		return v.StringValue()
	case bsontype.DateTime:
		return v.Time().UTC().Format("2006-01-02")
	case bsontype.Int32:
		return strconv.Itoa(int(v.Int32()))
	case bsontype.Int64:
		return strconv.FormatInt(v.Int64(), 10)
	default:
		return ""
	}
}

// rawTime reads a timestamp stored either as a BSON date or as float epoch
// seconds.
func rawTime(v bson.RawValue) time.Time {
	switch v.Type {
	case bsontype.DateTime:
		return v.Time().UTC()
	case bsontype.Double:
		sec, frac := math.Modf(v.Double())
		return time.Unix(int64(sec), int64(frac*1e9)).UTC()
	case bsontype.Int64:
		return time.Unix(v.Int64(), 0).UTC()
	default:
		return time.Time{}
	}
}
