package sngan_go

import (
	"path/filepath"
	"testing"
)

func perturbVariables(t *testing.T, m *SNGAN) {
	t.Helper()
	for _, v := range m.Scope().Variables() {
		data, err := v.Floats()
		if err != nil {
			t.Fatal(err)
		}
		for i := range data {
			data[i] += 1
		}
		if err := v.Assign(data); err != nil {
			t.Fatalf("Can't assign '%s': %v", v.Name, err)
		}
	}
	m.GlobalStep().Set(0)
	m.DStep().Set(0)
	m.GStep().Set(0)
}

func TestCheckpointSaveLoad(t *testing.T) {
	for _, format := range []CheckpointFormat{FormatJSON, FormatProto} {
		t.Run(format.String(), func(t *testing.T) {
			m := newBuiltModel(t, testConfig(1), nil)
			m.GlobalStep().Set(7)
			m.DStep().Set(14)
			m.GStep().Set(7)
			saved, err := NewCheckpoint(m)
			if err != nil {
				t.Fatalf("Can't take snapshot: %v", err)
			}
			if len(saved.Variables) != m.Scope().Len() {
				t.Fatalf("checkpoint must hold every variable: %d vs %d", len(saved.Variables), m.Scope().Len())
			}

			fname := filepath.Join(t.TempDir(), "ckpt")
			if err := SaveCheckpoint(m, fname, format); err != nil {
				t.Fatalf("Can't save checkpoint: %v", err)
			}
			perturbVariables(t, m)
			if err := LoadCheckpoint(m, fname, format); err != nil {
				t.Fatalf("Can't load checkpoint: %v", err)
			}

			if m.GlobalStep().Value() != 7 || m.DStep().Value() != 14 || m.GStep().Value() != 7 {
				t.Errorf("counters have not been restored: %d %d %d", m.GlobalStep().Value(), m.DStep().Value(), m.GStep().Value())
			}
			for _, st := range saved.Variables {
				v, ok := m.Scope().Lookup(st.Name)
				if !ok {
					t.Fatalf("variable '%s' is missing", st.Name)
				}
				data, err := v.Floats()
				if err != nil {
					t.Fatal(err)
				}
				for i := range data {
					if data[i] != st.Data[i] {
						t.Fatalf("'%s'[%d]: expected %v, got %v", st.Name, i, st.Data[i], data[i])
					}
				}
			}
		})
	}
}

func TestCheckpointRestoreMismatch(t *testing.T) {
	m := newBuiltModel(t, testConfig(1), nil)
	ckpt, err := NewCheckpoint(m)
	if err != nil {
		t.Fatal(err)
	}

	missing := &Checkpoint{Variables: ckpt.Variables[1:]}
	if err := missing.Restore(m); !IsConfigurationError(err) {
		t.Errorf("missing variable must be configuration error, got %v", err)
	}

	reshaped := &Checkpoint{Variables: append([]VariableState{}, ckpt.Variables...)}
	reshaped.Variables[0].Shape = []int{1, 1, 1}
	if err := reshaped.Restore(m); !IsConfigurationError(err) {
		t.Errorf("shape mismatch must be configuration error, got %v", err)
	}

	other := newTestModel(t, testConfig(1), nil)
	if err := ckpt.Restore(other); !IsInvariantViolation(err) {
		t.Errorf("restoring into model which is not built must be invariant violation, got %v", err)
	}
}

func TestCheckpointProtoSkipsUnknownFields(t *testing.T) {
	ckpt := &Checkpoint{
		GlobalStep: 3,
		Variables:  []VariableState{{Name: "d_w", Role: "discriminator", Shape: []int{1, 2}, Data: []float64{0.5, -1}}},
	}
	data := ckpt.MarshalProto()
	// field 15, varint 1
	data = append(data, 15<<3, 1)

	decoded := &Checkpoint{}
	if err := decoded.UnmarshalProto(data); err != nil {
		t.Fatalf("Can't decode checkpoint: %v", err)
	}
	if decoded.GlobalStep != 3 || len(decoded.Variables) != 1 {
		t.Fatalf("unexpected checkpoint %+v", decoded)
	}
	v := decoded.Variables[0]
	if v.Name != "d_w" || v.Role != "discriminator" || len(v.Shape) != 2 || v.Shape[1] != 2 || v.Data[1] != -1 {
		t.Errorf("unexpected variable %+v", v)
	}
	if err := decoded.UnmarshalProto([]byte{0x22, 0x05, 0x01}); err == nil {
		t.Errorf("truncated message must fail")
	}
}

func TestFormatFromPath(t *testing.T) {
	if f, err := FormatFromPath("out/ckpt_000100.pb"); err != nil || f != FormatProto {
		t.Errorf("expected proto format, got %v (%v)", f, err)
	}
	if f, err := FormatFromPath("ckpt.JSON"); err != nil || f != FormatJSON {
		t.Errorf("expected json format, got %v (%v)", f, err)
	}
	if _, err := FormatFromPath("ckpt.bin"); !IsConfigurationError(err) {
		t.Errorf("expected configuration error, got %v", err)
	}
}
