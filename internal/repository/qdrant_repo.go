package repository

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"github.com/timmy/mmrag/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// Named vectors stored on every point.
const (
	vectorText       = "text"
	vectorImage      = "image"
	vectorMultimodal = "multimodal"

	scrollPageSize = 256
)

// QdrantConnectionConfig holds configuration for Qdrant connection
type QdrantConnectionConfig struct {
	Host           string
	Port           int
	Collection     string
	APIKey         string // Qdrant Cloud API Key (enables TLS automatically)
	UseTLS         bool   // Explicitly enable TLS without API Key
	TextDimension  int    // Size of the "text" vector
	JointDimension int    // Size of the "image" and "multimodal" vectors
}

// apiKeyInterceptor creates a unary interceptor that adds API key to metadata
func apiKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// QdrantContentStore keeps content records as Qdrant points with three
// optional named vectors. It is used as plain storage: Find scrolls the
// filtered collection and ranking happens in the retriever.
type QdrantContentStore struct {
	conn           *grpc.ClientConn
	pointsClient   pb.PointsClient
	collectClient  pb.CollectionsClient
	collectionName string
	textDim        int
	jointDim       int
}

// NewQdrantContentStore connects to Qdrant.
// Supports both local Qdrant (insecure) and Qdrant Cloud (TLS + API Key).
func NewQdrantContentStore(cfg *QdrantConnectionConfig) (*QdrantContentStore, error) {
	if cfg.TextDimension <= 0 || cfg.JointDimension <= 0 {
		return nil, fmt.Errorf("qdrant: vector dimensions must be positive")
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	var opts []grpc.DialOption
	if cfg.UseTLS || cfg.APIKey != "" {
		creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS13})
		opts = append(opts, grpc.WithTransportCredentials(creds))
		if cfg.APIKey != "" {
			opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
		}
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	return &QdrantContentStore{
		conn:           conn,
		pointsClient:   pb.NewPointsClient(conn),
		collectClient:  pb.NewCollectionsClient(conn),
		collectionName: cfg.Collection,
		textDim:        cfg.TextDimension,
		jointDim:       cfg.JointDimension,
	}, nil
}

// Close closes the gRPC connection
func (s *QdrantContentStore) Close() error {
	return s.conn.Close()
}

// EnsureCollection creates the collection with the three named vectors if it
// does not exist, and checks vector sizes if it does.
func (s *QdrantContentStore) EnsureCollection(ctx context.Context) error {
	want := map[string]uint64{
		vectorText:       uint64(s.textDim),
		vectorImage:      uint64(s.jointDim),
		vectorMultimodal: uint64(s.jointDim),
	}

	info, err := s.collectClient.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: s.collectionName,
	})
	if err == nil {
		got := collectionVectorSizes(info.GetResult())
		for name, size := range want {
			if got[name] != size {
				return fmt.Errorf("collection %s: vector %q has size %d, expected %d", s.collectionName, name, got[name], size)
			}
		}
		return nil
	}

	params := make(map[string]*pb.VectorParams, len(want))
	for name, size := range want {
		params[name] = &pb.VectorParams{Size: size, Distance: pb.Distance_Cosine}
	}
	_, err = s.collectClient.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collectionName,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_ParamsMap{
				ParamsMap: &pb.VectorParamsMap{Map: params},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	if _, err := s.pointsClient.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
		CollectionName: s.collectionName,
		FieldName:      "content_type",
		FieldType:      pb.FieldType_FieldTypeKeyword.Enum(),
	}); err != nil {
		return fmt.Errorf("failed to index content_type: %w", err)
	}
	return nil
}

func collectionVectorSizes(info *pb.CollectionInfo) map[string]uint64 {
	sizes := map[string]uint64{}
	paramsMap := info.GetConfig().GetParams().GetVectorsConfig().GetParamsMap()
	for name, params := range paramsMap.GetMap() {
		sizes[name] = params.GetSize()
	}
	return sizes
}

// Insert stores a new record and returns its assigned ID.
func (s *QdrantContentStore) Insert(ctx context.Context, record *domain.ContentRecord) (string, error) {
	ids, err := s.InsertMany(ctx, []*domain.ContentRecord{record})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// InsertMany upserts all records in one request and waits for it to apply.
func (s *QdrantContentStore) InsertMany(ctx context.Context, records []*domain.ContentRecord) ([]string, error) {
	if len(records) == 0 {
		return []string{}, nil
	}
	now := time.Now().UTC()
	points := make([]*pb.PointStruct, len(records))
	ids := make([]string, len(records))
	for i, r := range records {
		stampNew(r, now.Add(time.Duration(i)*time.Microsecond))
		point, err := recordToPoint(r)
		if err != nil {
			return nil, err
		}
		points[i] = point
		ids[i] = r.ID
	}

	wait := true
	_, err := s.pointsClient.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collectionName,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert points: %w", err)
	}
	return ids, nil
}

// Find scrolls every matching point. String and bool metadata conditions are
// pushed to Qdrant; every condition is re-checked locally.
func (s *QdrantContentStore) Find(ctx context.Context, filter domain.ContentFilter) ([]*domain.ContentRecord, error) {
	var (
		records []*domain.ContentRecord
		offset  *pb.PointId
	)
	limit := uint32(scrollPageSize)
	for {
		resp, err := s.pointsClient.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: s.collectionName,
			Filter:         buildFilter(filter),
			Offset:         offset,
			Limit:          &limit,
			WithPayload: &pb.WithPayloadSelector{
				SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
			},
			WithVectors: &pb.WithVectorsSelector{
				SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scroll points: %w", err)
		}
		for _, point := range resp.GetResult() {
			r := pointToRecord(point)
			if filter.Matches(r) {
				records = append(records, r)
			}
		}
		offset = resp.GetNextPageOffset()
		if offset == nil {
			break
		}
	}

	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})
	return records, nil
}

// Get returns a record by ID.
func (s *QdrantContentStore) Get(ctx context.Context, id string) (*domain.ContentRecord, error) {
	pointID, err := parsePointID(id)
	if err != nil {
		return nil, fmt.Errorf("content record %s: %w", id, domain.ErrNotFound)
	}
	resp, err := s.pointsClient.Get(ctx, &pb.GetPoints{
		CollectionName: s.collectionName,
		Ids:            []*pb.PointId{pointID},
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
		WithVectors: &pb.WithVectorsSelector{
			SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get point: %w", err)
	}
	if len(resp.GetResult()) == 0 {
		return nil, fmt.Errorf("content record %s: %w", id, domain.ErrNotFound)
	}
	return pointToRecord(resp.GetResult()[0]), nil
}

// UpdateMetadata overwrites the metadata and updated_at payload keys.
func (s *QdrantContentStore) UpdateMetadata(ctx context.Context, id string, md map[string]any) (bool, error) {
	if _, err := s.Get(ctx, id); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if md == nil {
		md = map[string]any{}
	}
	mdValue, err := toValue(md)
	if err != nil {
		return false, fmt.Errorf("failed to encode metadata: %w", err)
	}
	pointID, _ := parsePointID(id)
	wait := true
	_, err = s.pointsClient.SetPayload(ctx, &pb.SetPayloadPoints{
		CollectionName: s.collectionName,
		Wait:           &wait,
		Payload: map[string]*pb.Value{
			"metadata":   mdValue,
			"updated_at": stringValue(time.Now().UTC().Format(time.RFC3339Nano)),
		},
		PointsSelector: pointsSelector(pointID),
	})
	if err != nil {
		return false, fmt.Errorf("failed to set payload: %w", err)
	}
	return true, nil
}

// Delete removes a point by ID.
func (s *QdrantContentStore) Delete(ctx context.Context, id string) (bool, error) {
	if _, err := s.Get(ctx, id); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	pointID, _ := parsePointID(id)
	wait := true
	_, err := s.pointsClient.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collectionName,
		Wait:           &wait,
		Points:         pointsSelector(pointID),
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete point: %w", err)
	}
	return true, nil
}

func parsePointID(id string) (*pb.PointId, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid point ID: %w", err)
	}
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: uid.String()}}, nil
}

func pointsSelector(id *pb.PointId) *pb.PointsSelector {
	return &pb.PointsSelector{
		PointsSelectorOneOf: &pb.PointsSelector_Points{
			Points: &pb.PointsIdsList{Ids: []*pb.PointId{id}},
		},
	}
}

func buildFilter(filter domain.ContentFilter) *pb.Filter {
	var conditions []*pb.Condition

	if filter.ContentType != "" {
		conditions = append(conditions, keywordCondition("content_type", string(filter.ContentType)))
	}
	for key, value := range filter.Metadata {
		switch v := value.(type) {
		case string:
			conditions = append(conditions, keywordCondition("metadata."+key, v))
		case bool:
			conditions = append(conditions, &pb.Condition{
				ConditionOneOf: &pb.Condition_Field{
					Field: &pb.FieldCondition{
						Key:   "metadata." + key,
						Match: &pb.Match{MatchValue: &pb.Match_Boolean{Boolean: v}},
					},
				},
			})
		}
	}

	if len(conditions) == 0 {
		return nil
	}
	return &pb.Filter{Must: conditions}
}

func keywordCondition(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func recordToPoint(r *domain.ContentRecord) (*pb.PointStruct, error) {
	pointID, err := parsePointID(r.ID)
	if err != nil {
		return nil, err
	}
	mdValue, err := toValue(r.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}

	named := map[string]*pb.Vector{}
	if len(r.TextEmbedding) > 0 {
		named[vectorText] = &pb.Vector{Data: r.TextEmbedding}
	}
	if len(r.ImageEmbedding) > 0 {
		named[vectorImage] = &pb.Vector{Data: r.ImageEmbedding}
	}
	if len(r.MultimodalEmbedding) > 0 {
		named[vectorMultimodal] = &pb.Vector{Data: r.MultimodalEmbedding}
	}

	return &pb.PointStruct{
		Id: pointID,
		Vectors: &pb.Vectors{
			VectorsOptions: &pb.Vectors_Vectors{
				Vectors: &pb.NamedVectors{Vectors: named},
			},
		},
		Payload: map[string]*pb.Value{
			"content_type": stringValue(string(r.ContentType)),
			"text_content": stringValue(r.TextContent),
			"image_path":   stringValue(r.ImagePath),
			"metadata":     mdValue,
			"created_at":   stringValue(r.CreatedAt.Format(time.RFC3339Nano)),
			"updated_at":   stringValue(r.UpdatedAt.Format(time.RFC3339Nano)),
		},
	}, nil
}

func pointToRecord(point *pb.RetrievedPoint) *domain.ContentRecord {
	payload := point.GetPayload()
	r := &domain.ContentRecord{
		ID:          point.GetId().GetUuid(),
		ContentType: domain.ContentType(payload["content_type"].GetStringValue()),
		TextContent: payload["text_content"].GetStringValue(),
		ImagePath:   payload["image_path"].GetStringValue(),
		Metadata:    map[string]any{},
	}
	if md, ok := fromValue(payload["metadata"]).(map[string]any); ok {
		r.Metadata = md
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, payload["created_at"].GetStringValue())
	r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, payload["updated_at"].GetStringValue())

	for name, vec := range point.GetVectors().GetVectors().GetVectors() {
		data := vec.GetDense().GetData()
		switch name {
		case vectorText:
			r.TextEmbedding = data
		case vectorImage:
			r.ImageEmbedding = data
		case vectorMultimodal:
			r.MultimodalEmbedding = data
		}
	}
	return r
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

// toValue converts JSON-shaped Go values to Qdrant payload values. Other
// types go through a JSON round trip first.
func toValue(v any) (*pb.Value, error) {
	switch t := v.(type) {
	case nil:
		return &pb.Value{Kind: &pb.Value_NullValue{}}, nil
	case string:
		return stringValue(t), nil
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: t}}, nil
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(t)}}, nil
	case int32:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(t)}}, nil
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: t}}, nil
	case float32:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: float64(t)}}, nil
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: t}}, nil
	case []any:
		values := make([]*pb.Value, len(t))
		for i, item := range t {
			val, err := toValue(item)
			if err != nil {
				return nil, err
			}
			values[i] = val
		}
		return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: values}}}, nil
	case map[string]any:
		fields := make(map[string]*pb.Value, len(t))
		for k, item := range t {
			val, err := toValue(item)
			if err != nil {
				return nil, err
			}
			fields[k] = val
		}
		return &pb.Value{Kind: &pb.Value_StructValue{StructValue: &pb.Struct{Fields: fields}}}, nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return toValue(generic)
}

func fromValue(v *pb.Value) any {
	if v == nil {
		return nil
	}
	switch k := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return k.StringValue
	case *pb.Value_BoolValue:
		return k.BoolValue
	case *pb.Value_IntegerValue:
		return k.IntegerValue
	case *pb.Value_DoubleValue:
		return k.DoubleValue
	case *pb.Value_ListValue:
		items := make([]any, len(k.ListValue.GetValues()))
		for i, item := range k.ListValue.GetValues() {
			items[i] = fromValue(item)
		}
		return items
	case *pb.Value_StructValue:
		fields := make(map[string]any, len(k.StructValue.GetFields()))
		for key, item := range k.StructValue.GetFields() {
			fields[key] = fromValue(item)
		}
		return fields
	}
	return nil
}
