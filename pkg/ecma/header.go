package ecma

import "siskin/pkg/heap"

// Typed compressed references. Each names the pool it indexes; all share
// heap's null encoding.
type (
	ObjectRef     heap.Ref
	PropertyRef   heap.Ref
	PairRef       heap.Ref
	NumberRef     heap.Ref
	CodeRef       heap.Ref
	CollectionRef heap.Ref
)

const (
	NullObject     ObjectRef     = 0
	NullProperty   PropertyRef   = 0
	NullPair       PairRef       = 0
	NullNumber     NumberRef     = 0
	NullCode       CodeRef       = 0
	NullCollection CollectionRef = 0
)

// ObjectType tags the behavior class of an object descriptor. The zero value
// is reserved so a zeroed pool slot never reads as a live object.
type ObjectType uint16

const (
	ObjectGeneral ObjectType = iota + 1
	ObjectClass
	ObjectFunction
	ObjectNativeFunction
	ObjectBoundFunction
	ObjectArray
	ObjectArguments
)

func (t ObjectType) String() string {
	switch t {
	case ObjectGeneral:
		return "general"
	case ObjectClass:
		return "class"
	case ObjectFunction:
		return "function"
	case ObjectNativeFunction:
		return "native function"
	case ObjectBoundFunction:
		return "bound function"
	case ObjectArray:
		return "array"
	case ObjectArguments:
		return "arguments"
	default:
		return "invalid"
	}
}

// EnvType tags the binding model of a lexical environment. Environment type
// codes start above every object type code; together with the env/builtin
// flag this is what makes IsLexicalEnvironment a single compare.
type EnvType uint16

const (
	EnvDeclarative EnvType = envTypeStart + iota
	EnvObjectBound
	EnvThisObjectBound
)

// Descriptor header layout, low to high: type code, shared env/builtin flag,
// collector visited flag, extensible flag, then the saturating reference
// count filling the rest of the word.
const (
	typeMask         uint16 = 0x000F
	flagEnvOrBuiltIn uint16 = 0x0010
	flagVisited      uint16 = 0x0020
	flagExtensible   uint16 = 0x0040
	refOne           uint16 = 0x0080
	refMax           uint16 = 0xFF80

	envTypeStart = 13
)

// Each constant pair underflows at compile time if a header field moves.
const (
	_ uint = uint(flagEnvOrBuiltIn) - uint(typeMask) - 1 // env/builtin flag follows the type bits
	_ uint = uint(typeMask) + 1 - uint(flagEnvOrBuiltIn)

	_ uint = uint(flagVisited) - uint(flagEnvOrBuiltIn)<<1 // visited flag follows env/builtin
	_ uint = uint(flagEnvOrBuiltIn)<<1 - uint(flagVisited)

	_ uint = uint(flagExtensible) - uint(flagVisited)<<1 // extensible flag follows visited
	_ uint = uint(flagVisited)<<1 - uint(flagExtensible)

	_ uint = uint(refOne) - uint(flagExtensible)<<1 // ref unit follows extensible
	_ uint = uint(flagExtensible)<<1 - uint(refOne)

	_ uint = uint(refMax|(refOne-1)) - 0xFFFF // ref field fills the remaining bits exactly
	_ uint = 0xFFFF - uint(refMax|(refOne-1))

	_ uint = uint(typeMask) - (uint(envTypeStart) + 2) // all three env types fit the type bits
	_ uint = uint(envTypeStart) - 1 - uint(ObjectArguments)
)
