package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freeeve/hexwar/api/pkg/arena"
)

type fakePutter struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(in.Body)
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func completedMatch() *arena.Match {
	m := arena.NewMatch("m-1", "a1", "b2", arena.DefaultRules(), nil)
	m.Complete("a1", arena.ReasonPoints)
	return m
}

func TestArchiveMatch_UploadsReplay(t *testing.T) {
	put := &fakePutter{}
	a := NewWithClient(put, "replays-bucket", "")
	a.now = func() time.Time { return time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC) }

	names := map[string]string{"a1": "Deep Thought", "b2": "HAL 9000"}
	require.NoError(t, a.ArchiveMatch(context.Background(), completedMatch(), names))
	require.Len(t, put.inputs, 1)

	in := put.inputs[0]
	assert.Equal(t, "replays-bucket", aws.ToString(in.Bucket))
	assert.Equal(t, "replays/2026/10/19/deep-thought-vs-hal-9000-m-1.json", aws.ToString(in.Key))
	assert.Equal(t, "application/json", aws.ToString(in.ContentType))

	var replay Replay
	require.NoError(t, json.Unmarshal(put.bodies[0], &replay))
	assert.Equal(t, "a1", replay.Winner)
	assert.Equal(t, arena.ReasonPoints, replay.Reason)
	assert.Equal(t, "HAL 9000", replay.Names["b2"])
}

func TestArchiveMatch_RejectsActiveMatch(t *testing.T) {
	put := &fakePutter{}
	a := NewWithClient(put, "b", "")
	m := arena.NewMatch("m-2", "a1", "b2", arena.DefaultRules(), nil)
	require.Error(t, a.ArchiveMatch(context.Background(), m, nil))
	assert.Empty(t, put.inputs)
}

func TestArchiveMatch_UploadError(t *testing.T) {
	a := NewWithClient(&fakePutter{err: errors.New("boom")}, "b", "")
	err := a.ArchiveMatch(context.Background(), completedMatch(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload replay")
}

func TestKey_FallsBackToID(t *testing.T) {
	a := NewWithClient(&fakePutter{}, "b", "archive")
	at := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	key := a.Key(completedMatch(), map[string]string{"a1": "!!!"}, at)
	assert.Equal(t, "archive/2026/01/02/a1-vs-b2-m-1.json", key)
}
