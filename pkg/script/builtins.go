package script

import (
	"fmt"
	"os"
	"strings"

	zygo "github.com/glycerine/zygomys/zygo"

	"github.com/chazu/meshdiff/pkg/compare"
)

// ---------------------------------------------------------------------------
// Source preprocessing
// ---------------------------------------------------------------------------

// preprocessSource rewrites script source into something zygomys accepts:
//
//  1. :keyword becomes the string literal "__kw_keyword".
//  2. kebab-case identifiers become snake_case (expect-match -> expect_match),
//     since zygomys reads a hyphen as subtraction.
//  3. ; line comments become // comments.
//
// String literals are copied untouched.
func preprocessSource(source string) string {
	out := make([]byte, 0, len(source)+len(source)/4)
	b := []byte(source)
	i := 0
	for i < len(b) {
		switch {
		case b[i] == '"':
			out = append(out, b[i])
			i++
			for i < len(b) && b[i] != '"' {
				if b[i] == '\\' && i+1 < len(b) {
					out = append(out, b[i], b[i+1])
					i += 2
					continue
				}
				out = append(out, b[i])
				i++
			}
			if i < len(b) {
				out = append(out, b[i])
				i++
			}

		case b[i] == '`':
			j := i + 1
			for j < len(b) && b[j] != '`' {
				j++
			}
			if j < len(b) {
				j++
			}
			out = append(out, b[i:j]...)
			i = j

		case b[i] == ';':
			out = append(out, '/', '/')
			for i < len(b) && b[i] == ';' {
				i++
			}
			for i < len(b) && b[i] != '\n' {
				out = append(out, b[i])
				i++
			}

		case b[i] == ':' && i+1 < len(b) && b[i+1] == '=':
			out = append(out, ':', '=')
			i += 2

		case b[i] == ':' && i+1 < len(b) && isLetter(b[i+1]):
			j := i + 1
			for j < len(b) && isKWChar(b[j]) {
				j++
			}
			out = append(out, '"')
			out = append(out, kwPrefix...)
			out = append(out, b[i+1:j]...)
			out = append(out, '"')
			i = j

		case b[i] == '-' && i > 0 && i+1 < len(b) && isIdentChar(b[i-1]) && isLetter(b[i+1]):
			out = append(out, '_')
			i++

		default:
			out = append(out, b[i])
			i++
		}
	}
	return string(out)
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isKWChar(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9') || c == '-' || c == '_'
}

func isIdentChar(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9') || c == '_'
}

// ---------------------------------------------------------------------------
// Argument parsing
// ---------------------------------------------------------------------------

// kwPrefix marks keywords rewritten by preprocessSource.
const kwPrefix = "__kw_"

func isKW(s zygo.Sexp) (string, bool) {
	str, ok := s.(*zygo.SexpStr)
	if !ok || !strings.HasPrefix(str.S, kwPrefix) {
		return "", false
	}
	return str.S[len(kwPrefix):], true
}

// kwArgs is an argument list split into keyword and positional values.
type kwArgs struct {
	kw         map[string]zygo.Sexp
	positional []zygo.Sexp
}

// parseArgs splits args. A keyword takes the next argument as its value; a
// trailing keyword is a flag and maps to SexpNull.
func parseArgs(args []zygo.Sexp) kwArgs {
	res := kwArgs{kw: make(map[string]zygo.Sexp)}
	for i := 0; i < len(args); i++ {
		name, ok := isKW(args[i])
		switch {
		case !ok:
			res.positional = append(res.positional, args[i])
		case i+1 < len(args):
			res.kw[name] = args[i+1]
			i++
		default:
			res.kw[name] = zygo.SexpNull
		}
	}
	return res
}

func toFloat64(s zygo.Sexp) (float64, error) {
	switch v := s.(type) {
	case *zygo.SexpInt:
		return float64(v.Val), nil
	case *zygo.SexpFloat:
		return v.Val, nil
	}
	return 0, fmt.Errorf("expected number, got %T (%s)", s, s.SexpString(nil))
}

// toKeywordString accepts :a as well as "a".
func toKeywordString(s zygo.Sexp) (string, error) {
	str, ok := s.(*zygo.SexpStr)
	if !ok {
		return "", fmt.Errorf("expected keyword or string, got %T (%s)", s, s.SexpString(nil))
	}
	return strings.TrimPrefix(str.S, kwPrefix), nil
}

func toBool(s zygo.Sexp) (bool, error) {
	if b, ok := s.(*zygo.SexpBool); ok {
		return b.Val, nil
	}
	return false, fmt.Errorf("expected true or false, got %T (%s)", s, s.SexpString(nil))
}

func toSlot(s zygo.Sexp) (compare.Slot, error) {
	name, err := toKeywordString(s)
	if err != nil {
		return 0, fmt.Errorf("expected slot :a or :b: %w", err)
	}
	return compare.ParseSlot(name)
}

// slotArg reads a slot from :slot or the first positional slot keyword.
func slotArg(pa kwArgs) (compare.Slot, error) {
	if v, ok := pa.kw["slot"]; ok {
		return toSlot(v)
	}
	for _, k := range []string{"a", "b"} {
		if v, ok := pa.kw[k]; ok && v == zygo.SexpNull {
			return compare.ParseSlot(k)
		}
	}
	for _, p := range pa.positional {
		if slot, err := toSlot(p); err == nil {
			return slot, nil
		}
	}
	return 0, fmt.Errorf("missing slot, expected :a or :b")
}

func boolArg(name string, args []zygo.Sexp) (bool, error) {
	if len(args) == 0 {
		return true, nil
	}
	v, err := toBool(args[0])
	if err != nil {
		return false, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}

// ---------------------------------------------------------------------------
// Builtins
// ---------------------------------------------------------------------------

// register installs the comparison builtins. Names are in the snake_case
// form preprocessSource produces.
func (s *session) register(env *zygo.Zlisp) {
	wf := s.r.wf
	rep := s.rep

	// (load "part.stl" :slot :a)
	s.add(env, "load", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		var path string
		for _, p := range pa.positional {
			if str, ok := p.(*zygo.SexpStr); ok && !strings.HasPrefix(str.S, kwPrefix) {
				path = str.S
				break
			}
		}
		if path == "" {
			return zygo.SexpNull, fmt.Errorf("load requires a file path")
		}
		slot, err := slotArg(pa)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("load: %w", err)
		}
		full := s.resolve(path)
		raw, err := os.ReadFile(full)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("load: %w", err)
		}
		rec, err := wf.Load(s.ctx, slot, full, raw)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("load: %w", err)
		}
		rep.step("load", "%s into %s (%d vertices, %d triangles)",
			path, slot, rec.VertexCount(), rec.Mesh.TriangleCount())
		return &zygo.SexpInt{Val: int64(rec.VertexCount())}, nil
	})

	// (clear :b)
	s.add(env, "clear", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		slot, err := slotArg(parseArgs(args))
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("clear: %w", err)
		}
		if err := wf.Clear(slot); err != nil {
			return zygo.SexpNull, fmt.Errorf("clear: %w", err)
		}
		rep.step("clear", "cleared %s", slot)
		return zygo.SexpNull, nil
	})

	// (align) returns the final RMSE.
	s.add(env, "align", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		res, err := wf.Align(s.ctx)
		if err != nil {
			return zygo.SexpNull, err
		}
		rep.step("align", "B aligned onto A (rmse %.6g, %d iterations)", res.RMSE, res.Iterations)
		return &zygo.SexpFloat{Val: res.RMSE}, nil
	})

	// (measure) returns the mean distance.
	s.add(env, "measure", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		ds, err := wf.Measure(s.ctx)
		if err != nil {
			return zygo.SexpNull, err
		}
		rep.Distance = ds
		rep.step("measure", "min %.6g max %.6g mean %.6g std %.6g", ds.Min, ds.Max, ds.Mean, ds.Std)
		return &zygo.SexpFloat{Val: ds.Mean}, nil
	})

	// (match :threshold 0.5) or (match 0.5) returns A's matching percentage.
	s.add(env, "match", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		threshold := s.r.opts.DefaultThreshold
		var arg zygo.Sexp
		if v, ok := pa.kw["threshold"]; ok {
			arg = v
		} else if len(pa.positional) > 0 {
			arg = pa.positional[0]
		}
		if arg != nil {
			f, err := toFloat64(arg)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("match: threshold: %w", err)
			}
			threshold = f
		}
		mr, err := wf.Match(s.ctx, threshold)
		if err != nil {
			return zygo.SexpNull, err
		}
		st := mr.Stats
		rep.Match = &st
		rep.step("match", "threshold %g: A %d/%d (%.1f%%), B %d/%d (%.1f%%)", threshold,
			st.NumMatchingA, st.TotalVerticesA, st.PercentMatchingA,
			st.NumMatchingB, st.TotalVerticesB, st.PercentMatchingB)
		return &zygo.SexpFloat{Val: st.PercentMatchingA}, nil
	})

	// (overlay true)
	s.add(env, "overlay", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		on, err := boolArg("overlay", args)
		if err != nil {
			return zygo.SexpNull, err
		}
		wf.SetMatchOverlay(on)
		rep.step("overlay", "match overlay %v", on)
		return zygo.SexpNull, nil
	})

	visibility := func(visible bool) zygo.ZlispUserFunction {
		return func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
			slot, err := slotArg(parseArgs(args))
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("%s: %w", name, err)
			}
			if err := wf.SetVisible(slot, visible); err != nil {
				return zygo.SexpNull, err
			}
			rep.step(name, "%s visible %v", slot, visible)
			return zygo.SexpNull, nil
		}
	}
	// (show :a) / (hide :b)
	s.add(env, "show", visibility(true))
	s.add(env, "hide", visibility(false))

	// (opacity 70)
	s.add(env, "opacity", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 1 {
			return zygo.SexpNull, fmt.Errorf("opacity requires a percentage")
		}
		pct, err := toFloat64(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("opacity: %w", err)
		}
		if err := wf.SetOpacity(pct); err != nil {
			return zygo.SexpNull, err
		}
		rep.step("opacity", "%g%%", pct)
		return zygo.SexpNull, nil
	})

	// (wireframe true)
	s.add(env, "wireframe", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		on, err := boolArg("wireframe", args)
		if err != nil {
			return zygo.SexpNull, err
		}
		wf.SetWireframe(on)
		rep.step("wireframe", "wireframe %v", on)
		return zygo.SexpNull, nil
	})

	// (expect-match :a 95.0 :b 90.0)
	s.add(env, "expect_match", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		mr := wf.Store().MatchResult()
		if mr == nil {
			rep.fail("expect-match: no match result")
			return &zygo.SexpBool{Val: false}, nil
		}
		ok := true
		for _, slot := range compare.Slots {
			v, present := pa.kw[strings.ToLower(slot.String())]
			if !present {
				continue
			}
			bound, err := toFloat64(v)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("expect-match: %s: %w", slot, err)
			}
			got := mr.Stats.PercentMatchingA
			if slot == compare.SlotB {
				got = mr.Stats.PercentMatchingB
			}
			if got < bound {
				ok = false
				rep.fail("expect-match: %s matches %.1f%%, want at least %.1f%%", slot, got, bound)
			}
		}
		rep.step("expect-match", "passed=%v", ok)
		return &zygo.SexpBool{Val: ok}, nil
	})

	// (expect-distance :max 0.5 :mean 0.1)
	s.add(env, "expect_distance", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		ds := wf.Store().DistanceStats()
		if ds == nil {
			rep.fail("expect-distance: no distance measurement")
			return &zygo.SexpBool{Val: false}, nil
		}
		ok := true
		for _, field := range []struct {
			key string
			got float64
		}{{"max", ds.Max}, {"mean", ds.Mean}, {"std", ds.Std}} {
			v, present := pa.kw[field.key]
			if !present {
				continue
			}
			bound, err := toFloat64(v)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("expect-distance: %s: %w", field.key, err)
			}
			if field.got > bound {
				ok = false
				rep.fail("expect-distance: %s %.6g exceeds %.6g", field.key, field.got, bound)
			}
		}
		rep.step("expect-distance", "passed=%v", ok)
		return &zygo.SexpBool{Val: ok}, nil
	})
}
