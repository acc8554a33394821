package ir

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const counterXML = `
<module name="counter">
  <var name="clk" input="true"><logic left="0" right="0"/></var>
  <var name="counter" output="true"><logic left="64" right="0"/></var>
  <var name="K"><logic left="31" right="0"/><constval value="7"/></var>
  <var name="mem">
    <array low="0" high="3"><logic left="7" right="0"/></array>
    <init>
      <const width="8" value="1"/>
      <const width="8" value="2"/>
    </init>
  </var>
  <block name="_eval">
    <triop op="if">
      <varref name="clk" width="1"/>
      <binop op="assign" width="65">
        <varref name="counter" width="65"/>
        <binop op="add" width="65">
          <varref name="counter" width="65"/>
          <const width="32" value="1"/>
        </binop>
      </binop>
    </triop>
  </block>
</module>`

func TestParseXML(t *testing.T) {
	m, err := ParseXML(strings.NewReader(counterXML))
	require.NoError(t, err)
	require.Equal(t, "counter", m.Name)

	clk := m.Var("clk")
	require.NotNil(t, clk)
	require.True(t, clk.IsInput)
	require.Equal(t, 1, clk.Dtype.Width())

	counter := m.Var("counter")
	require.NotNil(t, counter)
	require.True(t, counter.IsOutput)
	require.Equal(t, 65, counter.Dtype.Width())

	k := m.Var("K")
	require.NotNil(t, k)
	require.NotNil(t, k.ConstValue)
	require.Equal(t, uint64(7), k.ConstValue.Value)

	mem := m.Var("mem")
	require.NotNil(t, mem)
	require.Equal(t, TypeArray, mem.Dtype.Kind)
	require.Equal(t, 4, mem.Dtype.Count())
	require.NotNil(t, mem.InitValue)
	require.Len(t, mem.InitValue.Body, 2)

	ev := m.Block(BlockEval)
	require.NotNil(t, ev)
	require.Len(t, ev.Body, 1)
	iff := ev.Body[0]
	require.Equal(t, OpIf, iff.Op)
	require.Equal(t, OpVarRef, iff.Cond.Op)
	require.Equal(t, OpAssign, iff.Left.Op)
	require.Nil(t, iff.Right)
	add := iff.Left.Right
	require.Equal(t, OpAdd, add.Op)
	require.Equal(t, 65, add.Dtype.Width())
}

func TestParseXMLBigConst(t *testing.T) {
	src := `<module name="m">
  <var name="w"><logic left="95" right="0"/>
    <constval value="0" big="0xdeadbeefcafebabe12345678"/>
  </var>
</module>`
	m, err := ParseXML(strings.NewReader(src))
	require.NoError(t, err)
	w := m.Var("w")
	require.NotNil(t, w.ConstValue)
	require.NotNil(t, w.ConstValue.Big)
	require.Equal(t, "deadbeefcafebabe12345678", w.ConstValue.Big.Text(16))
}

func TestParseXMLWhile(t *testing.T) {
	src := `<module name="m">
  <var name="i"><logic left="7" right="0"/></var>
  <block name="_eval">
    <while>
      <precond><binop op="assign" width="8"><varref name="i" width="8"/><const width="8" value="0"/></binop></precond>
      <loopcond><binop op="lt" width="1"><varref name="i" width="8"/><const width="8" value="4"/></binop></loopcond>
      <inc><binop op="assign" width="8"><varref name="i" width="8"/><binop op="add" width="8"><varref name="i" width="8"/><const width="8" value="1"/></binop></binop></inc>
      <body></body>
    </while>
  </block>
</module>`
	m, err := ParseXML(strings.NewReader(src))
	require.NoError(t, err)
	w := m.Block(BlockEval).Body[0]
	require.Equal(t, OpWhile, w.Op)
	require.NotNil(t, w.Precond)
	require.NotNil(t, w.LoopCond)
	require.NotNil(t, w.Inc)
	require.Empty(t, w.Body)
}

func TestParseXMLErrors(t *testing.T) {
	_, err := ParseXML(strings.NewReader(`<notmodule/>`))
	require.Error(t, err)

	_, err = ParseXML(strings.NewReader(`<module><var name="x"/></module>`))
	require.Error(t, err, "var without a type")

	_, err = ParseXML(strings.NewReader(
		`<module><block name="b"><binop op="add" width="8"><const width="8" value="1"/></binop></block></module>`))
	require.Error(t, err, "binop arity")
}
