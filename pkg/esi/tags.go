package esi

import "strings"

// MatchesVar is the variable a truthy esi:when stores its result under. Its
// presence in a scope's own layer marks the enclosing esi:choose as decided.
const MatchesVar = "MATCHES"

// TagKind enumerates the tags the processor knows about.
type TagKind int

const (
	KindUnknown TagKind = iota
	KindInclude
	KindVars
	KindChoose
	KindWhen
	KindOtherwise
	KindAssign
	KindComment
	KindRemove

	kindCount
)

var tagKinds = map[string]TagKind{
	"esi:include":   KindInclude,
	"esi:vars":      KindVars,
	"esi:choose":    KindChoose,
	"esi:when":      KindWhen,
	"esi:otherwise": KindOtherwise,
	"esi:assign":    KindAssign,
	"esi:comment":   KindComment,
	"esi:remove":    KindRemove,
}

// KindOf maps a lowercased tag name to its kind.
func KindOf(name string) TagKind {
	return tagKinds[name]
}

// String returns the tag name for k.
func (k TagKind) String() string {
	for name, kind := range tagKinds {
		if kind == k {
			return name
		}
	}
	return "unknown"
}

// tagHandler turns a tag into output pieces. Handlers run synchronously;
// includes register a pending fragment with the pass instead of blocking.
type tagHandler func(ps *pass, tag *Tag, scope *Scope) []piece

var tagHandlers [kindCount]tagHandler

func init() {
	tagHandlers = [kindCount]tagHandler{
		KindUnknown:   (*pass).passthrough,
		KindInclude:   (*pass).include,
		KindVars:      (*pass).vars,
		KindChoose:    (*pass).choose,
		KindWhen:      (*pass).when,
		KindOtherwise: (*pass).otherwise,
		KindAssign:    (*pass).assign,
		KindComment:   (*pass).remove,
		KindRemove:    (*pass).remove,
	}
}

func (ps *pass) dispatch(tag *Tag, scope *Scope) []piece {
	return tagHandlers[KindOf(tag.Name)](ps, tag, scope)
}

func (ps *pass) passthrough(tag *Tag, _ *Scope) []piece {
	return []piece{{text: tag.Raw}}
}

func (ps *pass) remove(*Tag, *Scope) []piece {
	return nil
}

func (ps *pass) include(tag *Tag, scope *Scope) []piece {
	src, ok := tag.Attrs.Lookup("src")
	if !ok {
		return ps.passthrough(tag, scope)
	}

	f := &fragment{
		src:             Substitute(src, scope),
		raw:             tag.Raw,
		scope:           scope,
		onErrorContinue: strings.EqualFold(tag.Attrs.Get("onerror"), "continue"),
	}
	if alt, ok := tag.Attrs.Lookup("alt"); ok {
		f.alt = Substitute(alt, scope)
		f.hasAlt = true
	}

	ps.pending = append(ps.pending, f)
	return []piece{{frag: f}}
}

func (ps *pass) vars(tag *Tag, scope *Scope) []piece {
	if name, ok := tag.Attrs.Lookup("name"); ok && tag.Body == "" {
		if !strings.Contains(name, "$(") {
			name = "$(" + name + ")"
		}
		return []piece{{text: Substitute(name, scope)}}
	}
	return ps.evaluate(tag.Body, scope)
}

// choose evaluates its body in one shared child scope so that sibling
// when/otherwise tags see each other's match marker.
func (ps *pass) choose(tag *Tag, scope *Scope) []piece {
	return ps.evaluate(tag.Body, scope)
}

func (ps *pass) when(tag *Tag, scope *Scope) []piece {
	if scope.HasOwn(MatchesVar) {
		return nil
	}

	cond := Evaluate(tag.Attrs.Get("test"), scope)
	if !cond.OK {
		return nil
	}

	scope.Set(MatchesVar, cond.Value())
	if name, ok := tag.Attrs.Lookup("matchname"); ok {
		scope.Set(name, cond.Value())
	}
	return ps.evaluate(tag.Body, scope)
}

func (ps *pass) otherwise(tag *Tag, scope *Scope) []piece {
	if scope.HasOwn(MatchesVar) {
		return nil
	}
	return ps.evaluate(tag.Body, scope)
}

func (ps *pass) assign(tag *Tag, scope *Scope) []piece {
	if name, ok := tag.Attrs.Lookup("name"); ok {
		scope.Set(name, tag.Attrs.Get("value"))
	}
	return nil
}
