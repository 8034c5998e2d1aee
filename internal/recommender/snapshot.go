package recommender

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/klauspost/compress/zstd"
	"gonum.org/v1/gonum/mat"
)

// Snapshot layout: magic | uint16 format | zstd(gob(snapshotPayload)).
const (
	snapshotMagic  = "VRECSNAP"
	snapshotFormat = uint16(1)
)

type snapshotPayload struct {
	PositiveEpochs int
	NegativeEpochs int
	Combiner       string

	Users  []int64
	Places []int64

	Positive modelBlob
	Negative modelBlob

	Version   uint64
	TrainedAt time.Time
}

type modelBlob struct {
	Params    ModelParams
	NumUsers  int
	NumPlaces int
	Users     []byte
	Places    []byte
	UserBias  []byte
	PlaceBias []byte
	Source    []byte
}

func encodeSnapshot(st *state) ([]byte, error) {
	pos, err := marshalModel(st.positive)
	if err != nil {
		return nil, fmt.Errorf("positive model: %w", err)
	}
	neg, err := marshalModel(st.negative)
	if err != nil {
		return nil, fmt.Errorf("negative model: %w", err)
	}
	payload := snapshotPayload{
		PositiveEpochs: st.cfg.PositiveEpochs,
		NegativeEpochs: st.cfg.NegativeEpochs,
		Combiner:       st.cfg.Combiner.Name(),
		Users:          st.mapper.UserIDs(),
		Places:         st.mapper.PlaceIDs(),
		Positive:       pos,
		Negative:       neg,
		Version:        st.version,
		TrainedAt:      st.trainedAt,
	}

	var buf bytes.Buffer
	buf.WriteString(snapshotMagic)
	if err := binary.Write(&buf, binary.BigEndian, snapshotFormat); err != nil {
		return nil, err
	}
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if err := gob.NewEncoder(zw).Encode(&payload); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeSnapshot(blob []byte) (st *state, err error) {
	defer func() {
		if r := recover(); r != nil {
			st, err = nil, fmt.Errorf("%w: %v", ErrSnapshotCorrupt, r)
		}
	}()

	header := len(snapshotMagic) + 2
	if len(blob) < header || string(blob[:len(snapshotMagic)]) != snapshotMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrSnapshotCorrupt)
	}
	if format := binary.BigEndian.Uint16(blob[len(snapshotMagic):header]); format != snapshotFormat {
		return nil, fmt.Errorf("%w: unsupported format %d", ErrSnapshotCorrupt, format)
	}

	zr, err := zstd.NewReader(bytes.NewReader(blob[header:]))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotCorrupt, err)
	}
	defer zr.Close()

	var payload snapshotPayload
	if err := gob.NewDecoder(zr).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotCorrupt, err)
	}

	combiner, err := ParseCombiner(payload.Combiner)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotCorrupt, err)
	}
	mapper := BuildMapper(payload.Users, payload.Places)
	if mapper.NumUsers() != len(payload.Users) || mapper.NumPlaces() != len(payload.Places) {
		return nil, fmt.Errorf("%w: duplicate identifiers", ErrSnapshotCorrupt)
	}

	positive, err := unmarshalModel(payload.Positive, mapper)
	if err != nil {
		return nil, fmt.Errorf("%w: positive model: %v", ErrSnapshotCorrupt, err)
	}
	negative, err := unmarshalModel(payload.Negative, mapper)
	if err != nil {
		return nil, fmt.Errorf("%w: negative model: %v", ErrSnapshotCorrupt, err)
	}

	return &state{
		cfg: Config{
			Model:          positive.params,
			PositiveEpochs: payload.PositiveEpochs,
			NegativeEpochs: payload.NegativeEpochs,
			Combiner:       combiner,
		},
		mapper:    mapper,
		positive:  positive,
		negative:  negative,
		version:   payload.Version,
		trainedAt: payload.TrainedAt,
	}, nil
}

func marshalModel(m *AffinityModel) (modelBlob, error) {
	b := modelBlob{Params: m.params, NumUsers: m.nUsers, NumPlaces: m.nPlaces}
	var err error
	if m.users != nil {
		if b.Users, err = m.users.MarshalBinary(); err != nil {
			return b, err
		}
		if b.UserBias, err = m.userBias.MarshalBinary(); err != nil {
			return b, err
		}
	}
	if m.places != nil {
		if b.Places, err = m.places.MarshalBinary(); err != nil {
			return b, err
		}
		if b.PlaceBias, err = m.placeBias.MarshalBinary(); err != nil {
			return b, err
		}
	}
	if b.Source, err = m.src.MarshalBinary(); err != nil {
		return b, err
	}
	return b, nil
}

func unmarshalModel(b modelBlob, mapper *IdentifierMapper) (*AffinityModel, error) {
	if b.NumUsers != mapper.NumUsers() || b.NumPlaces != mapper.NumPlaces() {
		return nil, fmt.Errorf("shape %dx%d does not match mapper %dx%d",
			b.NumUsers, b.NumPlaces, mapper.NumUsers(), mapper.NumPlaces())
	}
	if _, err := ParseLoss(string(b.Params.Loss)); err != nil {
		return nil, err
	}

	m := &AffinityModel{
		params:  b.Params.withDefaults(),
		nUsers:  b.NumUsers,
		nPlaces: b.NumPlaces,
		src:     &rand.PCG{},
	}
	if err := m.src.UnmarshalBinary(b.Source); err != nil {
		return nil, fmt.Errorf("random source: %w", err)
	}
	m.rng = rand.New(m.src)

	var err error
	if m.users, m.userBias, err = unmarshalTable(b.Users, b.UserBias, b.NumUsers, m.params.Components); err != nil {
		return nil, fmt.Errorf("user factors: %w", err)
	}
	if m.places, m.placeBias, err = unmarshalTable(b.Places, b.PlaceBias, b.NumPlaces, m.params.Components); err != nil {
		return nil, fmt.Errorf("place factors: %w", err)
	}
	return m, nil
}

func unmarshalTable(factors, bias []byte, rows, cols int) (*mat.Dense, *mat.VecDense, error) {
	if rows == 0 {
		return nil, nil, nil
	}
	var d mat.Dense
	if err := d.UnmarshalBinary(factors); err != nil {
		return nil, nil, err
	}
	if r, c := d.Dims(); r != rows || c != cols {
		return nil, nil, fmt.Errorf("factor table is %dx%d, want %dx%d", r, c, rows, cols)
	}
	var v mat.VecDense
	if err := v.UnmarshalBinary(bias); err != nil {
		return nil, nil, err
	}
	if v.Len() != rows {
		return nil, nil, fmt.Errorf("bias vector has %d entries, want %d", v.Len(), rows)
	}
	return &d, &v, nil
}
