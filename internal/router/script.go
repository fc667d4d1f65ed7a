package router

import (
	"os"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/howard-nolan/unigate/internal/gatewayerr"
)

// ScriptStrategy lets an operator drop in a Lua script that picks among
// candidates, for routing logic too bespoke to express as a built-in
// strategy (e.g. "prefer provider X between 2am-4am UTC for cost reasons").
// The script must define a global function `pick(candidates)` where
// candidates is an array of {name, weight, latency_us, in_flight,
// avg_cost_cents} tables, returning the chosen candidate's name as a
// string.
//
// Lua state is not goroutine-safe, so one *lua.LState is reused behind a
// mutex rather than spun up per call — router Pick calls are expected to be
// frequent and the script itself is meant to be cheap.
type ScriptStrategy struct {
	mu   sync.Mutex
	ls   *lua.LState
	path string
}

func NewScriptStrategy(path string) (*ScriptStrategy, error) {
	if path == "" {
		return nil, gatewayerr.New(gatewayerr.Config, "router strategy \"script\" requires router.script_path")
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.Config, err, "reading router script %q", path)
	}
	ls := lua.NewState()
	if err := ls.DoString(string(src)); err != nil {
		ls.Close()
		return nil, gatewayerr.Wrap(gatewayerr.Config, err, "loading router script %q", path)
	}
	if ls.GetGlobal("pick").Type() != lua.LTFunction {
		ls.Close()
		return nil, gatewayerr.New(gatewayerr.Config, "router script %q must define a global pick(candidates) function", path)
	}
	return &ScriptStrategy{ls: ls, path: path}, nil
}

func (s *ScriptStrategy) Name() string { return "script" }

func (s *ScriptStrategy) Pick(candidates []*Candidate) *Candidate {
	if len(candidates) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tbl := s.ls.NewTable()
	byName := make(map[string]*Candidate, len(candidates))
	for _, c := range candidates {
		row := s.ls.NewTable()
		row.RawSetString("name", lua.LString(c.Provider.Name()))
		row.RawSetString("weight", lua.LNumber(c.Weight))
		row.RawSetString("latency_us", lua.LNumber(c.LatencyEWMA().Microseconds()))
		row.RawSetString("in_flight", lua.LNumber(c.InFlight()))
		row.RawSetString("avg_cost_cents", lua.LNumber(c.AverageCost()))
		tbl.Append(row)
		byName[c.Provider.Name()] = c
	}

	if err := s.ls.CallByParam(lua.P{
		Fn:      s.ls.GetGlobal("pick"),
		NRet:    1,
		Protect: true,
	}, tbl); err != nil {
		// A misbehaving script falls back to the first candidate rather
		// than failing the request outright.
		return candidates[0]
	}
	ret := s.ls.Get(-1)
	s.ls.Pop(1)

	name, ok := ret.(lua.LString)
	if !ok {
		return candidates[0]
	}
	if c, ok := byName[string(name)]; ok {
		return c
	}
	return candidates[0]
}

// Close releases the Lua interpreter state.
func (s *ScriptStrategy) Close() { s.ls.Close() }
