package artifacts

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	bondstesting "github.com/malbeclabs/bonds/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

type mockS3 struct {
	objects      map[string][]byte
	putObjectErr error
}

func (m *mockS3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putObjectErr != nil {
		return nil, m.putObjectErr
	}
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	m.objects[aws.ToString(params.Bucket)+"/"+aws.ToString(params.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := m.objects[aws.ToString(params.Bucket)+"/"+aws.ToString(params.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

type doc struct {
	Epoch uint64 `json:"epoch"`
}

func TestBonds_Artifacts_LocalStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, PutJSON(ctx, store, "100/merkle_trees.json", doc{Epoch: 100}))
	var got doc
	require.NoError(t, GetJSON(ctx, store, "100/merkle_trees.json", &got))
	require.Equal(t, uint64(100), got.Epoch)

	_, err = store.Get(ctx, "missing.json")
	require.ErrorIs(t, err, ErrNotFound)
	require.Error(t, store.Put(ctx, "../escape.json", nil))
	require.Error(t, store.Put(ctx, "", nil))
}

func TestBonds_Artifacts_S3Store(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, err := NewS3Store(S3Config{Logger: bondstesting.NewLogger(), Client: &mockS3{}})
	require.Error(t, err)

	client := &mockS3{objects: map[string][]byte{}}
	store, err := NewS3Store(S3Config{Logger: bondstesting.NewLogger(), Client: client, Bucket: "settlements", Prefix: "100/"})
	require.NoError(t, err)

	require.NoError(t, PutJSON(ctx, store, "settlements.json", doc{Epoch: 100}))
	require.Contains(t, client.objects, "settlements/100/settlements.json")

	var got doc
	require.NoError(t, GetJSON(ctx, store, "settlements.json", &got))
	require.Equal(t, uint64(100), got.Epoch)

	client.putObjectErr = errors.New("access denied")
	require.ErrorContains(t, store.Put(ctx, "x.json", []byte("{}")), "s3://settlements/100/x.json")
}
