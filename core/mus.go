package core

import (
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
)

// Hand-written MUS serializers for stored entities. The format is
// field-ordered with no tags, so field order here is part of the
// on-disk format and must not change.

var (
	float32SliceMUS = ord.NewSliceSer[float32](raw.Float32)
	stringSliceMUS  = ord.NewSliceSer[string](ord.String)
	stringMapMUS    = ord.NewMapSer[string, string](ord.String, ord.String)
)

// idMUS serializes IDs as varint uint64.
type idMUS struct{}

// IDMUS is the serializer for ID values.
var IDMUS = idMUS{}

func (idMUS) Marshal(id ID, bs []byte) int {
	return varint.Uint64.Marshal(uint64(id), bs)
}

func (idMUS) Unmarshal(bs []byte) (ID, int, error) {
	v, n, err := varint.Uint64.Unmarshal(bs)
	return ID(v), n, err
}

func (idMUS) Size(id ID) int {
	return varint.Uint64.Size(uint64(id))
}

func (idMUS) Skip(bs []byte) (int, error) {
	return varint.Uint64.Skip(bs)
}

func marshalTime(t time.Time, bs []byte) int {
	return varint.Int64.Marshal(t.UnixMicro(), bs)
}

func unmarshalTime(bs []byte) (time.Time, int, error) {
	v, n, err := varint.Int64.Unmarshal(bs)
	if err != nil {
		return time.Time{}, n, err
	}
	return time.UnixMicro(v).UTC(), n, nil
}

func sizeTime(t time.Time) int {
	return varint.Int64.Size(t.UnixMicro())
}

// documentMUS serializes Document values.
type documentMUS struct{}

// DocumentMUS is the serializer for Document values.
var DocumentMUS = documentMUS{}

func (documentMUS) Marshal(d Document, bs []byte) (n int) {
	n = ord.String.Marshal(d.Id, bs)
	n += ord.String.Marshal(d.OwnerSub, bs[n:])
	n += ord.String.Marshal(d.Filename, bs[n:])
	n += ord.String.Marshal(d.ContentHash, bs[n:])
	n += varint.Int.Marshal(int(d.Status), bs[n:])
	n += varint.Int.Marshal(d.PageCount, bs[n:])
	n += marshalTime(d.CreatedAt, bs[n:])
	n += marshalTime(d.UpdatedAt, bs[n:])
	return n
}

func (documentMUS) Unmarshal(bs []byte) (d Document, n int, err error) {
	var n1 int
	if d.Id, n, err = ord.String.Unmarshal(bs); err != nil {
		return
	}
	if d.OwnerSub, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return d, n + n1, err
	}
	n += n1
	if d.Filename, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return d, n + n1, err
	}
	n += n1
	if d.ContentHash, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return d, n + n1, err
	}
	n += n1
	var status int
	if status, n1, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return d, n + n1, err
	}
	d.Status = DocumentStatus(status)
	n += n1
	if d.PageCount, n1, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return d, n + n1, err
	}
	n += n1
	if d.CreatedAt, n1, err = unmarshalTime(bs[n:]); err != nil {
		return d, n + n1, err
	}
	n += n1
	if d.UpdatedAt, n1, err = unmarshalTime(bs[n:]); err != nil {
		return d, n + n1, err
	}
	n += n1
	return d, n, nil
}

func (documentMUS) Size(d Document) (size int) {
	size = ord.String.Size(d.Id)
	size += ord.String.Size(d.OwnerSub)
	size += ord.String.Size(d.Filename)
	size += ord.String.Size(d.ContentHash)
	size += varint.Int.Size(int(d.Status))
	size += varint.Int.Size(d.PageCount)
	size += sizeTime(d.CreatedAt)
	size += sizeTime(d.UpdatedAt)
	return size
}

// chunkMUS serializes Chunk values.
type chunkMUS struct{}

// ChunkMUS is the serializer for Chunk values.
var ChunkMUS = chunkMUS{}

func (chunkMUS) Marshal(c Chunk, bs []byte) (n int) {
	n = IDMUS.Marshal(c.Id, bs)
	n += ord.String.Marshal(c.DocumentId, bs[n:])
	n += ord.String.Marshal(c.OwnerSub, bs[n:])
	n += varint.Int.Marshal(c.Page, bs[n:])
	n += varint.Int.Marshal(c.ChunkIndex, bs[n:])
	n += ord.String.Marshal(c.Text, bs[n:])
	n += float32SliceMUS.Marshal(c.Vector, bs[n:])
	return n
}

func (chunkMUS) Unmarshal(bs []byte) (c Chunk, n int, err error) {
	var n1 int
	if c.Id, n, err = IDMUS.Unmarshal(bs); err != nil {
		return
	}
	if c.DocumentId, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return c, n + n1, err
	}
	n += n1
	if c.OwnerSub, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return c, n + n1, err
	}
	n += n1
	if c.Page, n1, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return c, n + n1, err
	}
	n += n1
	if c.ChunkIndex, n1, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return c, n + n1, err
	}
	n += n1
	if c.Text, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return c, n + n1, err
	}
	n += n1
	if c.Vector, n1, err = float32SliceMUS.Unmarshal(bs[n:]); err != nil {
		return c, n + n1, err
	}
	n += n1
	return c, n, nil
}

func (chunkMUS) Size(c Chunk) (size int) {
	size = IDMUS.Size(c.Id)
	size += ord.String.Size(c.DocumentId)
	size += ord.String.Size(c.OwnerSub)
	size += varint.Int.Size(c.Page)
	size += varint.Int.Size(c.ChunkIndex)
	size += ord.String.Size(c.Text)
	size += float32SliceMUS.Size(c.Vector)
	return size
}

// runMUS serializes Run values.
type runMUS struct{}

// RunMUS is the serializer for Run values.
var RunMUS = runMUS{}

func (runMUS) Marshal(r Run, bs []byte) (n int) {
	n = ord.String.Marshal(r.Id, bs)
	n += ord.String.Marshal(r.OwnerSub, bs[n:])
	n += varint.Int.Marshal(int(r.Status), bs[n:])
	n += stringSliceMUS.Marshal(r.DocumentIds, bs[n:])
	n += stringMapMUS.Marshal(r.Config, bs[n:])
	n += marshalTime(r.CreatedAt, bs[n:])
	n += marshalTime(r.UpdatedAt, bs[n:])
	return n
}

func (runMUS) Unmarshal(bs []byte) (r Run, n int, err error) {
	var n1 int
	if r.Id, n, err = ord.String.Unmarshal(bs); err != nil {
		return
	}
	if r.OwnerSub, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return r, n + n1, err
	}
	n += n1
	var status int
	if status, n1, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return r, n + n1, err
	}
	r.Status = RunStatus(status)
	n += n1
	if r.DocumentIds, n1, err = stringSliceMUS.Unmarshal(bs[n:]); err != nil {
		return r, n + n1, err
	}
	n += n1
	if r.Config, n1, err = stringMapMUS.Unmarshal(bs[n:]); err != nil {
		return r, n + n1, err
	}
	n += n1
	if r.CreatedAt, n1, err = unmarshalTime(bs[n:]); err != nil {
		return r, n + n1, err
	}
	n += n1
	if r.UpdatedAt, n1, err = unmarshalTime(bs[n:]); err != nil {
		return r, n + n1, err
	}
	n += n1
	return r, n, nil
}

func (runMUS) Size(r Run) (size int) {
	size = ord.String.Size(r.Id)
	size += ord.String.Size(r.OwnerSub)
	size += varint.Int.Size(int(r.Status))
	size += stringSliceMUS.Size(r.DocumentIds)
	size += stringMapMUS.Size(r.Config)
	size += sizeTime(r.CreatedAt)
	size += sizeTime(r.UpdatedAt)
	return size
}
