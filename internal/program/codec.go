package program

import (
	"bytes"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/example/go-aotcheck/internal/runtime/tensor"
	"github.com/example/go-aotcheck/internal/safetensors"
	"github.com/example/go-aotcheck/internal/value"
)

// Field numbers of the wire format. The buffer is Magic followed by one
// Program message.
const (
	fieldProgramVersion   protowire.Number = 1
	fieldProgramFormat    protowire.Number = 2
	fieldProgramMethod    protowire.Number = 3
	fieldProgramConstants protowire.Number = 4
	fieldProgramPayload   protowire.Number = 5

	fieldMethodName        protowire.Number = 1
	fieldMethodInputSlots  protowire.Number = 2
	fieldMethodInputShape  protowire.Number = 3
	fieldMethodOutputSpec  protowire.Number = 4
	fieldMethodOutputSlots protowire.Number = 5
	fieldMethodInstruction protowire.Number = 6
	fieldMethodConstant    protowire.Number = 7
	fieldMethodNumSlots    protowire.Number = 8
	fieldMethodInputName   protowire.Number = 9
	fieldMethodOutputName  protowire.Number = 10

	fieldInsOp     protowire.Number = 1
	fieldInsInputs protowire.Number = 2
	fieldInsOutput protowire.Number = 3
	fieldInsInts   protowire.Number = 4
	fieldInsFloat  protowire.Number = 5
	fieldInsName   protowire.Number = 6
	fieldInsFlag   protowire.Number = 7

	fieldConstName protowire.Number = 1
	fieldConstSlot protowire.Number = 2
)

// Encode serializes p after validating it.
func Encode(p *Program) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	b := []byte(Magic)
	b = appendVarint(b, fieldProgramVersion, uint64(Version))
	b = appendString(b, fieldProgramFormat, string(p.Format))

	for i := range p.Methods {
		b = appendBytes(b, fieldProgramMethod, encodeMethod(&p.Methods[i]))
	}

	if len(p.Constants) > 0 {
		blob, err := safetensors.EncodeTensors(safetensors.FromMap(p.Constants))
		if err != nil {
			return nil, fmt.Errorf("program: encode constants: %w", err)
		}

		b = appendBytes(b, fieldProgramConstants, blob)
	}

	if len(p.Payload) > 0 {
		b = appendBytes(b, fieldProgramPayload, p.Payload)
	}

	return b, nil
}

func encodeMethod(m *Method) []byte {
	var b []byte

	b = appendString(b, fieldMethodName, m.Name)
	b = appendBytes(b, fieldMethodInputSlots, packInts(m.InputSlots))

	for _, s := range m.InputShapes {
		b = appendBytes(b, fieldMethodInputShape, packInt64s(s))
	}

	b = appendString(b, fieldMethodOutputSpec, m.Output.String())
	b = appendBytes(b, fieldMethodOutputSlots, packInts(m.OutputSlots))

	for _, ins := range m.Instructions {
		b = appendBytes(b, fieldMethodInstruction, encodeInstruction(ins))
	}

	for _, c := range m.Constants {
		var cb []byte
		cb = appendString(cb, fieldConstName, c.Name)
		cb = appendVarint(cb, fieldConstSlot, uint64(c.Slot))
		b = appendBytes(b, fieldMethodConstant, cb)
	}

	b = appendVarint(b, fieldMethodNumSlots, uint64(m.NumSlots))

	for _, n := range m.InputNames {
		b = appendString(b, fieldMethodInputName, n)
	}

	for _, n := range m.OutputNames {
		b = appendString(b, fieldMethodOutputName, n)
	}

	return b
}

func encodeInstruction(ins Instruction) []byte {
	var b []byte

	b = appendString(b, fieldInsOp, ins.Op)
	b = appendBytes(b, fieldInsInputs, packInts(ins.Inputs))
	b = appendVarint(b, fieldInsOutput, uint64(ins.Output))

	if len(ins.Attrs.Ints) > 0 {
		b = appendBytes(b, fieldInsInts, packInt64s(ins.Attrs.Ints))
	}

	if ins.Attrs.Float != 0 {
		b = protowire.AppendTag(b, fieldInsFloat, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(ins.Attrs.Float))
	}

	if ins.Attrs.Name != "" {
		b = appendString(b, fieldInsName, ins.Attrs.Name)
	}

	if ins.Attrs.Flag {
		b = appendVarint(b, fieldInsFlag, 1)
	}

	return b
}

// Decode parses a buffer produced by Encode.
func Decode(buf []byte) (*Program, error) {
	if !bytes.HasPrefix(buf, []byte(Magic)) {
		n := min(len(buf), len(Magic))
		return nil, fmt.Errorf("%w: got %q", ErrBadMagic, buf[:n])
	}

	p := &Program{}
	r := fieldReader{b: buf[len(Magic):]}

	for !r.done() {
		num, typ, err := r.tag()
		if err != nil {
			return nil, err
		}

		switch num {
		case fieldProgramVersion:
			v, err := r.varint(typ)
			if err != nil {
				return nil, err
			}

			p.Version = int(v)
		case fieldProgramFormat:
			s, err := r.bytes(typ)
			if err != nil {
				return nil, err
			}

			p.Format = Format(s)
		case fieldProgramMethod:
			mb, err := r.bytes(typ)
			if err != nil {
				return nil, err
			}

			m, err := decodeMethod(mb)
			if err != nil {
				return nil, err
			}

			p.Methods = append(p.Methods, m)
		case fieldProgramConstants:
			blob, err := r.bytes(typ)
			if err != nil {
				return nil, err
			}

			consts, _, err := safetensors.DecodeMap(blob)
			if err != nil {
				return nil, fmt.Errorf("program: decode constants: %w", err)
			}

			p.Constants = consts
		case fieldProgramPayload:
			payload, err := r.bytes(typ)
			if err != nil {
				return nil, err
			}

			p.Payload = append([]byte(nil), payload...)
		default:
			if err := r.skip(num, typ); err != nil {
				return nil, err
			}
		}
	}

	if p.Version != Version {
		return nil, fmt.Errorf("program: unsupported version %d (want %d)", p.Version, Version)
	}

	if p.Constants == nil {
		p.Constants = map[string]*tensor.Tensor{}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}

	return p, nil
}

func decodeMethod(b []byte) (Method, error) {
	var m Method

	r := fieldReader{b: b}
	for !r.done() {
		num, typ, err := r.tag()
		if err != nil {
			return Method{}, err
		}

		var raw []byte
		if typ == protowire.BytesType {
			if raw, err = r.bytes(typ); err != nil {
				return Method{}, err
			}
		}

		switch num {
		case fieldMethodName:
			m.Name = string(raw)
		case fieldMethodInputSlots:
			m.InputSlots, err = unpackInts(raw)
		case fieldMethodInputShape:
			var shape []int64
			shape, err = unpackInt64s(raw)
			m.InputShapes = append(m.InputShapes, shape)
		case fieldMethodOutputSpec:
			m.Output, err = value.ParseTreeSpec(string(raw))
		case fieldMethodOutputSlots:
			m.OutputSlots, err = unpackInts(raw)
		case fieldMethodInstruction:
			var ins Instruction
			ins, err = decodeInstruction(raw)
			m.Instructions = append(m.Instructions, ins)
		case fieldMethodConstant:
			var c ConstBinding
			c, err = decodeConst(raw)
			m.Constants = append(m.Constants, c)
		case fieldMethodNumSlots:
			var v uint64
			v, err = r.varint(typ)
			m.NumSlots = int(v)
		case fieldMethodInputName:
			m.InputNames = append(m.InputNames, string(raw))
		case fieldMethodOutputName:
			m.OutputNames = append(m.OutputNames, string(raw))
		default:
			if typ != protowire.BytesType {
				err = r.skip(num, typ)
			}
		}

		if err != nil {
			return Method{}, fmt.Errorf("program: method field %d: %w", num, err)
		}
	}

	return m, nil
}

func decodeInstruction(b []byte) (Instruction, error) {
	var ins Instruction

	r := fieldReader{b: b}
	for !r.done() {
		num, typ, err := r.tag()
		if err != nil {
			return Instruction{}, err
		}

		switch num {
		case fieldInsOp, fieldInsInputs, fieldInsInts, fieldInsName:
			raw, err := r.bytes(typ)
			if err != nil {
				return Instruction{}, err
			}

			switch num {
			case fieldInsOp:
				ins.Op = string(raw)
			case fieldInsInputs:
				ins.Inputs, err = unpackInts(raw)
			case fieldInsInts:
				ins.Attrs.Ints, err = unpackInt64s(raw)
			case fieldInsName:
				ins.Attrs.Name = string(raw)
			}

			if err != nil {
				return Instruction{}, err
			}
		case fieldInsOutput, fieldInsFlag:
			v, err := r.varint(typ)
			if err != nil {
				return Instruction{}, err
			}

			if num == fieldInsOutput {
				ins.Output = int(v)
			} else {
				ins.Attrs.Flag = v != 0
			}
		case fieldInsFloat:
			if typ != protowire.Fixed64Type {
				return Instruction{}, fmt.Errorf("program: float attr has wire type %d", typ)
			}

			v, n := protowire.ConsumeFixed64(r.b)
			if n < 0 {
				return Instruction{}, protowire.ParseError(n)
			}

			r.b = r.b[n:]
			ins.Attrs.Float = math.Float64frombits(v)
		default:
			if err := r.skip(num, typ); err != nil {
				return Instruction{}, err
			}
		}
	}

	if ins.Op == "" {
		return Instruction{}, fmt.Errorf("program: instruction without op")
	}

	return ins, nil
}

func decodeConst(b []byte) (ConstBinding, error) {
	var c ConstBinding

	r := fieldReader{b: b}
	for !r.done() {
		num, typ, err := r.tag()
		if err != nil {
			return ConstBinding{}, err
		}

		switch num {
		case fieldConstName:
			raw, err := r.bytes(typ)
			if err != nil {
				return ConstBinding{}, err
			}

			c.Name = string(raw)
		case fieldConstSlot:
			v, err := r.varint(typ)
			if err != nil {
				return ConstBinding{}, err
			}

			c.Slot = int(v)
		default:
			if err := r.skip(num, typ); err != nil {
				return ConstBinding{}, err
			}
		}
	}

	return c, nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func packInts(vs []int) []byte {
	b := make([]byte, 0, len(vs))
	for _, v := range vs {
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(v)))
	}

	return b
}

func packInt64s(vs []int64) []byte {
	b := make([]byte, 0, len(vs))
	for _, v := range vs {
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(v))
	}

	return b
}

func unpackInt64s(b []byte) ([]int64, error) {
	out := []int64{}

	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}

		out = append(out, protowire.DecodeZigZag(v))
		b = b[n:]
	}

	return out, nil
}

func unpackInts(b []byte) ([]int, error) {
	vs, err := unpackInt64s(b)
	if err != nil {
		return nil, err
	}

	out := make([]int, len(vs))
	for i, v := range vs {
		out[i] = int(v)
	}

	return out, nil
}

type fieldReader struct {
	b []byte
}

func (r *fieldReader) done() bool {
	return len(r.b) == 0
}

func (r *fieldReader) tag() (protowire.Number, protowire.Type, error) {
	num, typ, n := protowire.ConsumeTag(r.b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}

	r.b = r.b[n:]

	return num, typ, nil
}

func (r *fieldReader) varint(typ protowire.Type) (uint64, error) {
	if typ != protowire.VarintType {
		return 0, fmt.Errorf("program: want varint, got wire type %d", typ)
	}

	v, n := protowire.ConsumeVarint(r.b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}

	r.b = r.b[n:]

	return v, nil
}

func (r *fieldReader) bytes(typ protowire.Type) ([]byte, error) {
	if typ != protowire.BytesType {
		return nil, fmt.Errorf("program: want bytes, got wire type %d", typ)
	}

	v, n := protowire.ConsumeBytes(r.b)
	if n < 0 {
		return nil, protowire.ParseError(n)
	}

	r.b = r.b[n:]

	return v, nil
}

func (r *fieldReader) skip(num protowire.Number, typ protowire.Type) error {
	n := protowire.ConsumeFieldValue(num, typ, r.b)
	if n < 0 {
		return protowire.ParseError(n)
	}

	r.b = r.b[n:]

	return nil
}
