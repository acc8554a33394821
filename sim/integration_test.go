package sim

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinytapeout/hdlsim/ir"
)

// The full path a playground session takes: frontend XML in, compiled
// module instantiated, clock driven, outputs observed.
func TestXMLFrontendToSimulation(t *testing.T) {
	const src = `
<module name="shiftreg">
  <var name="clk" input="true"><logic left="0" right="0"/></var>
  <var name="din" input="true"><logic left="0" right="0"/></var>
  <var name="q" output="true"><logic left="7" right="0"/></var>
  <block name="_eval">
    <triop op="if">
      <varref name="clk" width="1"/>
      <binop op="assign" width="8">
        <varref name="q" width="8"/>
        <binop op="or" width="8">
          <binop op="shiftl" width="8">
            <varref name="q" width="8"/>
            <const width="32" value="1"/>
          </binop>
          <varref name="din" width="1"/>
        </binop>
      </binop>
    </triop>
  </block>
</module>`

	m, err := ir.ParseXML(strings.NewReader(src))
	require.NoError(t, err)

	s := newSim(t, m)
	require.NoError(t, s.Powercycle())

	// clock in the pattern 1,0,1,1
	for _, bit := range []uint64{1, 0, 1, 1} {
		require.NoError(t, s.State().SetUint("din", bit))
		require.NoError(t, s.Tick2(1))
	}
	q, err := s.State().Uint("q")
	require.NoError(t, err)
	require.Equal(t, uint64(0b1011), q)
}

func TestGeneratedModuleExports(t *testing.T) {
	s, err := New(counterModule(8), nil)
	require.NoError(t, err)
	require.NotEmpty(t, s.Binary())
	require.Equal(t, []byte{0x00, 0x61, 0x73, 0x6d}, s.Binary()[:4])

	require.NoError(t, s.InitSync())
	defer s.Dispose()

	// the contract names must all resolve
	for _, name := range []string{"_eval", "eval", "tick2"} {
		require.NotNil(t, s.mod.ExportedFunction(name), name)
	}
	require.NotNil(t, s.mem)
}
