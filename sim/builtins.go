package sim

import (
	"context"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/tinytapeout/hdlsim/codegen"
)

// The generated module imports its system tasks from the "builtins"
// host module. The flags and the time origin are per instance, so
// simulators running side by side never interfere.
func (s *Sim) instantiateBuiltins(ctx context.Context) error {
	_, err := s.rt.NewHostModuleBuilder(codegen.BuiltinModule).
		NewFunctionBuilder().
		WithFunc(func(_ context.Context, dp, line int32) {
			s.finished = true
			s.finishLine = int(line)
			s.log.Info("$finish", zap.Int("line", int(line)))
		}).
		Export("$finish").
		NewFunctionBuilder().
		WithFunc(func(_ context.Context, dp, line int32) {
			s.stopped = true
			s.stopLine = int(line)
			s.log.Info("$stop", zap.Int("line", int(line)))
		}).
		Export("$stop").
		NewFunctionBuilder().
		WithFunc(func(_ context.Context, dp int32) int64 {
			return time.Since(s.t0).Milliseconds()
		}).
		Export("$time").
		NewFunctionBuilder().
		WithFunc(func(_ context.Context, dp int32) int32 {
			return int32(s.rnd.Uint32())
		}).
		Export("$rand").
		NewFunctionBuilder().
		WithFunc(func(_ context.Context, mod api.Module, dp, fnamePtr, memPtr, isHex int32) {
			if err := s.readmem(mod.Memory(), uint32(fnamePtr), uint32(memPtr), isHex == 1); err != nil {
				s.hostErr = err
			}
		}).
		Export("$readmem").
		Instantiate(ctx)
	return err
}

// readmem parses a $readmemh/$readmemb file resolved through the host
// callback and fills consecutive 32-bit chunks of the target. The
// destination stays untouched on any failure.
func (s *Sim) readmem(mem api.Memory, fnamePtr, memPtr uint32, isHex bool) error {
	name := readCString(mem, fnamePtr)
	if s.getFile == nil {
		return ErrMissingFile
	}
	content, ok := s.getFile(name)
	if !ok {
		return ErrMissingFile
	}

	// locate the destination entry to bound the write
	capBytes := -1
	for _, e := range s.prog.Layout.Order {
		if uint32(e.Offset) <= memPtr && memPtr < uint32(e.Offset+e.Size) {
			capBytes = e.Offset + e.Size - int(memPtr)
			break
		}
	}

	base := 2
	if isHex {
		base = 16
	}
	var chunks []uint32
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if i := strings.Index(line, "//"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line == "" {
			continue
		}
		v, err := strconv.ParseUint(line, base, 64)
		if err != nil {
			return err
		}
		chunks = append(chunks, uint32(v))
	}
	if capBytes >= 0 && len(chunks)*4 > capBytes {
		return ErrReadmemTooSmall
	}
	for i, c := range chunks {
		mem.WriteUint32Le(memPtr+uint32(4*i), c)
	}
	s.log.Debug("$readmem", zap.String("file", name), zap.Int("words", len(chunks)))
	return nil
}

func readCString(mem api.Memory, addr uint32) string {
	var b []byte
	for {
		c, ok := mem.ReadByte(addr)
		if !ok || c == 0 {
			return string(b)
		}
		b = append(b, c)
		addr++
	}
}

func bigFromUint(v uint64) *big.Int { return new(big.Int).SetUint64(v) }

var chunkMask = big.NewInt(0xffffffff)

func bigChunk32(b *big.Int, i int) uint32 {
	var word big.Int
	word.Rsh(b, uint(32*i))
	word.And(&word, chunkMask)
	return uint32(word.Uint64())
}
