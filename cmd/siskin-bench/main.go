// siskin-bench drives a seeded workload through an object store context:
// it builds prototype-linked object graphs, hammers the lookup cache, churns
// properties through mutation and collection rounds, and round-trips a
// compiled-code graph through the snapshot codec, logging pool occupancy
// along the way.
package main

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"siskin/pkg/config"
	"siskin/pkg/ecma"
	"siskin/pkg/intern"
	"siskin/pkg/snapshot"
)

type benchOptions struct {
	configPath string
	objects    int
	props      int
	lookups    int
	churn      int
	seed       int64
	snapshot   bool
	trace      bool
}

func main() {
	var opts benchOptions
	rootCmd := &cobra.Command{
		Use:          "siskin-bench",
		Short:        "Exercise the object store with a seeded workload",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(opts.trace)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			return run(opts, log)
		},
	}
	f := rootCmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "TOML limits file; stock sizing when empty")
	f.IntVar(&opts.objects, "objects", 512, "objects to build")
	f.IntVar(&opts.props, "props", 8, "named properties per object shape")
	f.IntVar(&opts.lookups, "lookups", 20000, "random lookups to run")
	f.IntVar(&opts.churn, "churn", 4, "mutation and collection rounds")
	f.Int64Var(&opts.seed, "seed", 1, "workload seed")
	f.BoolVar(&opts.snapshot, "snapshot", true, "round-trip a code graph through the snapshot codec")
	f.BoolVar(&opts.trace, "trace", false, "log per-round detail")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(trace bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !trace {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	return cfg.Build()
}

func run(opts benchOptions, log *zap.Logger) error {
	if opts.objects <= 0 || opts.props <= 0 || opts.lookups < 0 || opts.churn < 0 {
		return errors.New("objects and props must be positive, lookups and churn non-negative")
	}

	lim := config.Default()
	if opts.configPath != "" {
		var err error
		if lim, err = config.Load(opts.configPath); err != nil {
			return err
		}
	}
	c := ecma.NewContext(lim)
	r := rand.New(rand.NewSource(opts.seed))

	names := propertyNames(c, opts.props)
	accessorName := c.Strings().Intern("__accessor__")

	start := time.Now()
	roots := buildObjects(c, r, names, accessorName, opts.objects)
	st := c.Stats()
	log.Info("object graph built",
		zap.Int("objects", st.ObjectsLive),
		zap.Int("properties", st.PropsLive),
		zap.Int("accessor_pairs", st.PairsLive),
		zap.Int("code_bytes", st.CodeInUse),
		zap.Duration("took", time.Since(start)))

	start = time.Now()
	found := runLookups(c, r, roots, names, opts.lookups)
	st = c.Stats()
	log.Info("lookup phase done",
		zap.Int("lookups", opts.lookups),
		zap.Int("found", found),
		zap.Uint64("cache_hits", st.Lookup.Hits),
		zap.Uint64("cache_misses", st.Lookup.Misses),
		zap.Uint64("cache_evictions", st.Lookup.Evictions),
		zap.Duration("took", time.Since(start)))

	start = time.Now()
	for round := 0; round < opts.churn; round++ {
		mutated, retired := churn(c, r, roots, names)
		freed := c.CollectGarbage()
		log.Debug("churn round",
			zap.Int("round", round),
			zap.Int("mutated", mutated),
			zap.Int("retired_roots", retired),
			zap.Int("collected", freed))
	}
	st = c.Stats()
	log.Info("churn done",
		zap.Int("rounds", opts.churn),
		zap.Int("objects_live", st.ObjectsLive),
		zap.Int("properties_live", st.PropsLive),
		zap.Uint64("cache_invalidations", st.Lookup.Invalidations),
		zap.Duration("took", time.Since(start)))

	if opts.snapshot {
		if err := snapshotRoundTrip(c, lim, log); err != nil {
			return err
		}
	}

	for _, o := range roots {
		if o != ecma.NullObject {
			c.DerefObject(o)
		}
	}
	freed := c.CollectGarbage()
	for _, n := range names {
		c.Strings().Release(n)
	}
	c.Strings().Release(accessorName)

	final := c.Stats()
	log.Info("teardown",
		zap.Int("collected", freed),
		zap.Int("objects_live", final.ObjectsLive),
		zap.Int("properties_live", final.PropsLive),
		zap.Int("numbers_live", final.NumbersLive),
		zap.Int("strings_live", final.StringsLive),
		zap.Int("code_bytes", final.CodeInUse))
	if final.ObjectsLive != 0 || final.PropsLive != 0 || final.NumbersLive != 0 ||
		final.StringsLive != 0 || final.CodeInUse != 0 {
		log.Warn("context not empty after teardown")
		return errors.New("workload leaked records")
	}
	return nil
}

// propertyNames interns the shape's property names: the usual suspects
// first, then numbered fillers.
func propertyNames(c *ecma.Context, n int) []intern.Ref {
	base := []string{"length", "name", "constructor", "toString", "valueOf", "prototype", "caller", "arguments"}
	names := make([]intern.Ref, 0, n)
	for i := 0; i < n; i++ {
		if i < len(base) {
			names = append(names, c.Strings().Intern(base[i]))
			continue
		}
		names = append(names, c.Strings().Intern(fmt.Sprintf("p%d", i)))
	}
	return names
}

// buildObjects creates n root objects with staggered shapes: shared
// prototypes, function objects with scope and code slots, and the
// occasional accessor wired to the last function built.
func buildObjects(c *ecma.Context, r *rand.Rand, names []intern.Ref, accessorName intern.Ref, n int) []ecma.ObjectRef {
	roots := make([]ecma.ObjectRef, 0, n)
	proto := ecma.NullObject
	lastFn := ecma.NullObject

	for i := 0; i < n; i++ {
		typ := ecma.ObjectGeneral
		if i%8 == 3 {
			typ = ecma.ObjectFunction
		}
		p := proto
		if i%4 == 0 {
			p = ecma.NullObject
		}
		o := c.CreateObject(p, true, typ)
		if i%16 == 0 {
			proto = o
		}

		for j, name := range names {
			if (i+j)%3 == 0 {
				continue
			}
			prop := c.CreateNamedDataProperty(o, name, true, j%2 == 0, true)
			v := randomValue(c, r, roots)
			c.AssignNamedDataValue(o, prop, v)
			c.FreeValue(v)
		}

		if typ == ecma.ObjectFunction {
			env := c.CreateDeclEnv(ecma.NullObject)
			sp := c.CreateInternalProperty(o, ecma.InternalScope)
			c.SetInternalPayload(sp, uint32(env))
			c.DerefObject(env)

			b := c.NewFunctionCode(ecma.FunctionParams{
				StackLimit:  uint16(8 + r.Intn(8)),
				RegisterEnd: uint16(2 + r.Intn(4)),
				IdentEnd:    uint16(6 + r.Intn(4)),
			}, nil, nil, randomBody(r))
			cp := c.CreateInternalProperty(o, ecma.InternalCode)
			c.SetInternalPayload(cp, uint32(b))
			lastFn = o
		} else if i%10 == 5 && lastFn != ecma.NullObject {
			c.CreateNamedAccessorProperty(o, accessorName, lastFn, ecma.NullObject, true, true)
		}

		roots = append(roots, o)
	}
	return roots
}

func randomBody(r *rand.Rand) []byte {
	body := make([]byte, 4+r.Intn(28))
	r.Read(body)
	return body
}

// randomValue returns a value the caller owns one reference of, so every
// assign site can free it after storing a copy.
func randomValue(c *ecma.Context, r *rand.Rand, pool []ecma.ObjectRef) ecma.Value {
	switch r.Intn(5) {
	case 0:
		return ecma.NumberValue(c.NewNumber(r.Float64() * 1000))
	case 1:
		return ecma.StringValue(c.Strings().Intern(fmt.Sprintf("str%d", r.Intn(64))))
	case 2:
		return ecma.BooleanValue(r.Intn(2) == 0)
	case 3:
		if len(pool) > 0 {
			if t := pool[r.Intn(len(pool))]; t != ecma.NullObject {
				c.RefObject(t)
				return ecma.ObjectValue(t)
			}
		}
		return ecma.Null
	}
	return ecma.Undefined
}

func runLookups(c *ecma.Context, r *rand.Rand, roots []ecma.ObjectRef, names []intern.Ref, n int) int {
	missName := c.Strings().Intern("__absent__")
	found := 0
	for i := 0; i < n; i++ {
		o := roots[r.Intn(len(roots))]
		name := names[r.Intn(len(names))]
		if r.Intn(8) == 0 {
			name = missName
		}
		if p := c.FindNamedProperty(o, name); p != ecma.NullProperty {
			found++
		}
	}
	c.Strings().Release(missName)
	return found
}

// churn mutates a quarter of the graph and retires a few roots, leaving
// garbage for the next collection.
func churn(c *ecma.Context, r *rand.Rand, roots []ecma.ObjectRef, names []intern.Ref) (mutated, retired int) {
	for k := 0; k < len(roots)/4; k++ {
		o := roots[r.Intn(len(roots))]
		if o == ecma.NullObject {
			continue
		}
		name := names[r.Intn(len(names))]
		p := c.FindNamedProperty(o, name)
		switch {
		case p == ecma.NullProperty:
			np := c.CreateNamedDataProperty(o, name, true, true, true)
			v := randomValue(c, r, roots)
			c.AssignNamedDataValue(o, np, v)
			c.FreeValue(v)
		case c.KindOf(p) == ecma.KindNamedData && r.Intn(3) > 0:
			v := randomValue(c, r, roots)
			c.AssignNamedDataValue(o, p, v)
			c.FreeValue(v)
		default:
			c.DeleteProperty(o, p)
		}
		mutated++
	}

	for k := 0; k < len(roots)/32+1; k++ {
		i := r.Intn(len(roots))
		if roots[i] == ecma.NullObject {
			continue
		}
		c.DerefObject(roots[i])
		roots[i] = ecma.NullObject
		retired++
	}
	return mutated, retired
}

// snapshotRoundTrip serializes a small code graph with a shared helper, a
// self-recursive function and a regexp, then rebuilds it in a fresh context
// and checks the root body survived.
func snapshotRoundTrip(c *ecma.Context, lim config.Limits, log *zap.Logger) error {
	lit := c.Strings().Intern("helper")
	shared := c.NewFunctionCode(ecma.FunctionParams{StackLimit: 2, RegisterEnd: 1, IdentEnd: 1},
		[]intern.Ref{lit}, nil, []byte{0x01, 0x02})
	c.Strings().Release(lit)

	left := c.NewFunctionCode(ecma.FunctionParams{StackLimit: 4, RegisterEnd: 2, IdentEnd: 2},
		nil, []ecma.CodeRef{shared}, []byte{0x03, 0x04, 0x05})
	c.RefCode(shared)
	recursive := c.NewFunctionCode(ecma.FunctionParams{StackLimit: 6, RegisterEnd: 2, IdentEnd: 3},
		nil, []ecma.CodeRef{shared, ecma.NullCode}, []byte{0x06})

	re, err := c.NewRegExpCode("[a-z]+[0-9]*", ecma.RegExpIgnoreCase)
	if err != nil {
		return err
	}
	root := c.NewFunctionCode(ecma.FunctionParams{StackLimit: 8, RegisterEnd: 3, IdentEnd: 4},
		nil, []ecma.CodeRef{left, recursive, re}, []byte{0x07, 0x08, 0x09, 0x0A})

	var buf bytes.Buffer
	if err := snapshot.Write(c, root, &buf); err != nil {
		return err
	}
	size := buf.Len()

	dst := ecma.NewContext(lim)
	out, err := snapshot.Read(dst, &buf)
	if err != nil {
		return err
	}
	if !bytes.Equal(dst.CodeBody(out), c.CodeBody(root)) {
		return errors.New("snapshot root body mismatch")
	}
	rebuilt := dst.Stats().CodeInUse
	dst.DerefCode(out)
	c.DerefCode(root)

	log.Info("snapshot round trip",
		zap.Int("bytes", size),
		zap.Int("rebuilt_code_bytes", rebuilt))
	return nil
}
