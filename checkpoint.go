package sngan_go

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
	"gorgonia.org/tensor"
)

// CheckpointFormat Encoding of checkpoint file
type CheckpointFormat uint16

const (
	FormatJSON = CheckpointFormat(iota)
	FormatProto
)

func (f CheckpointFormat) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatProto:
		return "proto"
	default:
		return "unknown"
	}
}

// FormatFromPath Picks format by file extension: ".json" or ".pb"
func FormatFromPath(fname string) (CheckpointFormat, error) {
	switch strings.ToLower(filepath.Ext(fname)) {
	case ".json":
		return FormatJSON, nil
	case ".pb":
		return FormatProto, nil
	default:
		return 0, configErrorf("unknown checkpoint extension of '%s'", fname)
	}
}

// VariableState Saved value of single variable
type VariableState struct {
	Name  string    `json:"name"`
	Role  string    `json:"role"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// Checkpoint Saved counters and every variable of the model (power iteration vectors included)
type Checkpoint struct {
	GlobalStep int64           `json:"global_step"`
	DStep      int64           `json:"d_step"`
	GStep      int64           `json:"g_step"`
	Variables  []VariableState `json:"variables"`
}

// NewCheckpoint Takes snapshot of built model
func NewCheckpoint(m *SNGAN) (*Checkpoint, error) {
	if !m.Built() {
		return nil, invariantErrorf("model is not built")
	}
	vars := m.scope.Variables()
	ckpt := &Checkpoint{
		GlobalStep: m.globalStep.Value(),
		DStep:      m.dStep.Value(),
		GStep:      m.gStep.Value(),
		Variables:  make([]VariableState, len(vars)),
	}
	for i, v := range vars {
		data, err := v.Floats()
		if err != nil {
			return nil, errors.Wrapf(err, "Can't read '%s'", v.Name)
		}
		ckpt.Variables[i] = VariableState{
			Name:  v.Name,
			Role:  v.Role.String(),
			Shape: append([]int{}, v.Shape()...),
			Data:  data,
		}
	}
	return ckpt, nil
}

// Restore Writes saved values into variables of built model. Every variable of the model must be present in checkpoint.
func (c *Checkpoint) Restore(m *SNGAN) error {
	if !m.Built() {
		return invariantErrorf("model is not built")
	}
	saved := make(map[string]*VariableState, len(c.Variables))
	for i := range c.Variables {
		saved[c.Variables[i].Name] = &c.Variables[i]
	}
	for _, v := range m.scope.Variables() {
		st, ok := saved[v.Name]
		if !ok {
			return configErrorf("checkpoint has no variable '%s'", v.Name)
		}
		if !v.Shape().Eq(tensor.Shape(st.Shape)) {
			return configErrorf("variable '%s' has shape %v, but checkpoint has %v", v.Name, v.Shape(), st.Shape)
		}
		if st.Role != v.Role.String() {
			return configErrorf("variable '%s' is %s, but checkpoint has %s", v.Name, v.Role, st.Role)
		}
		if err := v.Assign(st.Data); err != nil {
			return errors.Wrapf(err, "Can't restore '%s'", v.Name)
		}
	}
	m.globalStep.Set(c.GlobalStep)
	m.dStep.Set(c.DStep)
	m.gStep.Set(c.GStep)
	return nil
}

// SaveCheckpoint Writes snapshot of model into file
func SaveCheckpoint(m *SNGAN, fname string, format CheckpointFormat) error {
	ckpt, err := NewCheckpoint(m)
	if err != nil {
		return err
	}
	var data []byte
	switch format {
	case FormatJSON:
		data, err = json.Marshal(ckpt)
		if err != nil {
			return errors.Wrap(err, "Can't marshal checkpoint")
		}
	case FormatProto:
		data = ckpt.MarshalProto()
	default:
		return configErrorf("unknown checkpoint format %d", format)
	}
	if dir := filepath.Dir(fname); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "Can't create directory '%s'", dir)
		}
	}
	if err := os.WriteFile(fname, data, 0644); err != nil {
		return errors.Wrapf(err, "Can't write checkpoint '%s'", fname)
	}
	return nil
}

// LoadCheckpoint Reads file and restores model from it
func LoadCheckpoint(m *SNGAN, fname string, format CheckpointFormat) error {
	data, err := os.ReadFile(fname)
	if err != nil {
		return errors.Wrapf(err, "Can't read checkpoint '%s'", fname)
	}
	ckpt := &Checkpoint{}
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, ckpt); err != nil {
			return errors.Wrapf(err, "Can't unmarshal checkpoint '%s'", fname)
		}
	case FormatProto:
		if err := ckpt.UnmarshalProto(data); err != nil {
			return errors.Wrapf(err, "Can't decode checkpoint '%s'", fname)
		}
	default:
		return configErrorf("unknown checkpoint format %d", format)
	}
	return ckpt.Restore(m)
}

// Protobuf wire layout:
//
// Checkpoint: 1 - global_step (varint), 2 - d_step (varint), 3 - g_step (varint), 4 - variables (repeated message)
// Variable: 1 - name (string), 2 - role (string), 3 - shape (packed varint), 4 - data (packed fixed64)
//
const (
	ckptGlobalStepField = protowire.Number(1)
	ckptDStepField      = protowire.Number(2)
	ckptGStepField      = protowire.Number(3)
	ckptVariablesField  = protowire.Number(4)

	varNameField  = protowire.Number(1)
	varRoleField  = protowire.Number(2)
	varShapeField = protowire.Number(3)
	varDataField  = protowire.Number(4)
)

// MarshalProto Encodes checkpoint in protobuf wire format
func (c *Checkpoint) MarshalProto() []byte {
	var b []byte
	b = protowire.AppendTag(b, ckptGlobalStepField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.GlobalStep))
	b = protowire.AppendTag(b, ckptDStepField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.DStep))
	b = protowire.AppendTag(b, ckptGStepField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.GStep))
	for i := range c.Variables {
		b = protowire.AppendTag(b, ckptVariablesField, protowire.BytesType)
		b = protowire.AppendBytes(b, c.Variables[i].marshalProto())
	}
	return b
}

func (v *VariableState) marshalProto() []byte {
	var b []byte
	b = protowire.AppendTag(b, varNameField, protowire.BytesType)
	b = protowire.AppendString(b, v.Name)
	b = protowire.AppendTag(b, varRoleField, protowire.BytesType)
	b = protowire.AppendString(b, v.Role)

	var shape []byte
	for _, d := range v.Shape {
		shape = protowire.AppendVarint(shape, uint64(d))
	}
	b = protowire.AppendTag(b, varShapeField, protowire.BytesType)
	b = protowire.AppendBytes(b, shape)

	data := make([]byte, 0, 8*len(v.Data))
	for _, x := range v.Data {
		data = protowire.AppendFixed64(data, math.Float64bits(x))
	}
	b = protowire.AppendTag(b, varDataField, protowire.BytesType)
	b = protowire.AppendBytes(b, data)
	return b
}

// UnmarshalProto Decodes checkpoint from protobuf wire format. Unknown fields are skipped.
func (c *Checkpoint) UnmarshalProto(b []byte) error {
	*c = Checkpoint{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "Can't read tag")
		}
		b = b[n:]
		switch {
		case typ == protowire.VarintType && (num == ckptGlobalStepField || num == ckptDStepField || num == ckptGStepField):
			x, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return errors.Wrapf(protowire.ParseError(n), "Can't read field %d", num)
			}
			b = b[n:]
			switch num {
			case ckptGlobalStepField:
				c.GlobalStep = int64(x)
			case ckptDStepField:
				c.DStep = int64(x)
			default:
				c.GStep = int64(x)
			}
		case typ == protowire.BytesType && num == ckptVariablesField:
			msg, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return errors.Wrap(protowire.ParseError(n), "Can't read variable")
			}
			b = b[n:]
			v := VariableState{}
			if err := v.unmarshalProto(msg); err != nil {
				return errors.Wrapf(err, "Can't decode variable #%d", len(c.Variables))
			}
			c.Variables = append(c.Variables, v)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return errors.Wrapf(protowire.ParseError(n), "Can't skip field %d", num)
			}
			b = b[n:]
		}
	}
	return nil
}

func (v *VariableState) unmarshalProto(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		payload, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case varNameField:
			v.Name = string(payload)
		case varRoleField:
			v.Role = string(payload)
		case varShapeField:
			for len(payload) > 0 {
				d, m := protowire.ConsumeVarint(payload)
				if m < 0 {
					return protowire.ParseError(m)
				}
				payload = payload[m:]
				v.Shape = append(v.Shape, int(d))
			}
		case varDataField:
			if len(payload)%8 != 0 {
				return errors.Errorf("data has %d bytes, which is not multiple of 8", len(payload))
			}
			v.Data = make([]float64, 0, len(payload)/8)
			for len(payload) > 0 {
				x, m := protowire.ConsumeFixed64(payload)
				if m < 0 {
					return protowire.ParseError(m)
				}
				payload = payload[m:]
				v.Data = append(v.Data, math.Float64frombits(x))
			}
		}
	}
	return nil
}
