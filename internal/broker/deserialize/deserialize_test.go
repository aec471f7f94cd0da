package deserialize

import (
	"testing"
	"time"

	"querybroker/internal/broker/model"
	"querybroker/internal/broker/wire"
)

func validPayload() []byte {
	return wire.EncodeDataTable(&model.DataTable{
		Schema: &model.DataSchema{ColumnNames: []string{"a"}, ColumnTypes: []model.ColumnType{model.ColumnTypeLong}},
		Rows:   [][]any{{int64(1)}},
	})
}

func TestDeserialize_DecodesValidPayloads(t *testing.T) {
	server := model.ServerInstance{Hostname: "s1", Port: 8000}
	payloads := map[model.ServerInstance][]byte{server: validPayload()}

	result := Deserialize(payloads, 0)

	if len(result.Tables) != 1 {
		t.Fatalf("expected 1 table, got %d", len(result.Tables))
	}
	if len(result.Exceptions) != 0 {
		t.Errorf("expected no exceptions, got %v", result.Exceptions)
	}
}

func TestDeserialize_CorruptPayloadBecomesException(t *testing.T) {
	server := model.ServerInstance{Hostname: "s1", Port: 8000}
	payloads := map[model.ServerInstance][]byte{server: {0x01, 0x02}}

	result := Deserialize(payloads, 0)

	if len(result.Tables) != 0 {
		t.Errorf("expected the corrupt shard to be dropped, got %d tables", len(result.Tables))
	}
	if len(result.Exceptions) != 1 {
		t.Fatalf("expected 1 exception, got %d", len(result.Exceptions))
	}
}

func TestDeserialize_RestampsSequence(t *testing.T) {
	server := model.ServerInstance{Hostname: "s1", Port: 8000}
	payloads := map[model.ServerInstance][]byte{server: validPayload()}

	result := Deserialize(payloads, 1)

	want := model.ServerInstance{Hostname: "s1", Port: 8000, Sequence: 1}
	if _, ok := result.Tables[want]; !ok {
		t.Errorf("expected table keyed by sequence-stamped identity %v, got %v", want, result.Tables)
	}
}

func TestDeserialize_MixedValidAndCorrupt(t *testing.T) {
	good := model.ServerInstance{Hostname: "good", Port: 8000}
	bad := model.ServerInstance{Hostname: "bad", Port: 8000}
	payloads := map[model.ServerInstance][]byte{
		good: validPayload(),
		bad:  {0xff},
	}

	result := Deserialize(payloads, 0)

	if len(result.Tables) != 1 {
		t.Errorf("expected 1 surviving table, got %d", len(result.Tables))
	}
	if len(result.Exceptions) != 1 {
		t.Errorf("expected 1 exception for the corrupt shard, got %d", len(result.Exceptions))
	}
}

func TestResponseTimesFor_Restamps(t *testing.T) {
	server := model.ServerInstance{Hostname: "s1", Port: 8000}
	times := map[model.ServerInstance]time.Duration{server: time.Millisecond}

	rekeyed := ResponseTimesFor(times, 1)

	want := model.ServerInstance{Hostname: "s1", Port: 8000, Sequence: 1}
	if _, ok := rekeyed[want]; !ok {
		t.Errorf("expected rekeyed entry for %v, got %v", want, rekeyed)
	}
}
