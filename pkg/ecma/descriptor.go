package ecma

import "siskin/pkg/fatal"

// PropertyDescriptor is the denormalized bridge view of one property. Every
// payload field pairs with a defined flag. A descriptor owns the references
// it carries (value, getter, setter) until FreeDescriptor releases them.
type PropertyDescriptor struct {
	Value  Value
	Getter ObjectRef
	Setter ObjectRef

	Writable     bool
	Enumerable   bool
	Configurable bool

	ValueDefined        bool
	WritableDefined     bool
	EnumerableDefined   bool
	ConfigurableDefined bool
	GetterDefined       bool
	SetterDefined       bool
}

// EmptyDescriptor has no field defined, an Undefined value and null links.
func EmptyDescriptor() PropertyDescriptor {
	return PropertyDescriptor{Value: Undefined}
}

// DescriptorFromProperty builds a descriptor owning fresh references: the
// value is a strong copy, and non-null getter/setter links gain one
// descriptor reference each. Enumerable and configurable are always
// defined; the remaining fields follow the property kind.
func (c *Context) DescriptorFromProperty(p PropertyRef) PropertyDescriptor {
	d := EmptyDescriptor()
	d.Enumerable = c.IsEnumerable(p)
	d.EnumerableDefined = true
	d.Configurable = c.IsConfigurable(p)
	d.ConfigurableDefined = true

	switch c.KindOf(p) {
	case KindNamedData:
		d.Value = c.CopyValue(c.NamedDataValue(p))
		d.ValueDefined = true
		d.Writable = c.IsWritable(p)
		d.WritableDefined = true
	case KindNamedAccessor:
		d.Getter = c.AccessorGetter(p)
		d.GetterDefined = true
		if d.Getter != NullObject {
			c.RefObject(d.Getter)
		}
		d.Setter = c.AccessorSetter(p)
		d.SetterDefined = true
		if d.Setter != NullObject {
			c.RefObject(d.Setter)
		}
	default:
		fatal.Unreachable("descriptor from an internal property")
	}
	return d
}

// FreeDescriptor releases every reference the descriptor owns and resets it
// to the empty descriptor. Freeing an already-empty descriptor is a no-op.
func (c *Context) FreeDescriptor(d *PropertyDescriptor) {
	if d.ValueDefined {
		c.FreeValue(d.Value)
	}
	if d.GetterDefined && d.Getter != NullObject {
		c.DerefObject(d.Getter)
	}
	if d.SetterDefined && d.Setter != NullObject {
		c.DerefObject(d.Setter)
	}
	*d = EmptyDescriptor()
}
