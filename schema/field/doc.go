// Package field parses terse field-definition strings into typed descriptors.
//
// A definition is either a scalar type with optional parameters and modifiers,
// or a relationship introduced by one of the four operators:
//
//	field.Parse("string")              // scalar
//	field.Parse("decimal(10,2)!")      // parametric, required+unique
//	field.Parse("varchar(255)#")       // parametric, indexed
//	field.Parse("map<string,int>")     // generic
//	field.Parse("->Author.posts")      // forward exact relation with backref
//	field.Parse("~>Category(0.7)")     // forward fuzzy relation with threshold
//	field.Parse("<-Post.author")       // backward exact relation
//	field.Parse("<~Occupation(0.7)")   // backward fuzzy grounding relation
//
// # Operators
//
// The operator fixes both the direction and the match mode of a relation:
//
//	->  forward, exact    (stored id lookup)
//	~>  forward, fuzzy    (semantic/text match, generate on miss)
//	<-  backward, exact   (inverse-side query)
//	<~  backward, fuzzy   (grounding against reference data)
//
// Free text before the operator is captured verbatim as the field's Prompt
// and used as generation/matching guidance:
//
//	field.Parse("the person who wrote this ->Author.posts")
//
// # Modifiers
//
// Scalar definitions accept a trailing array marker and one constraint
// modifier, in that order: "[]" then "?" (optional), "!" (required and
// unique) or "#" (indexed). "?" and "!" together is a parse error.
//
// Parsing is pure and deterministic: the same definition always yields a
// structurally identical Field, and malformed input is rejected with a
// *ParseError before it can reach runtime resolution.
package field
