/*
Package expr evaluates boolean conditions over FlowFile attributes.

# Overview

A condition is compiled once and matched against many attribute maps:

	cond, err := expr.Compile("temperature.unit == 'fahrenheit' and stats.max > 90")
	if err != nil {
	    return err
	}
	if cond.Match(ff.Attributes()) {
	    // ...
	}

# Syntax

	<or>      := <and> ( 'or' <and> )*
	<and>     := <not> ( 'and' <not> )*
	<not>     := ( 'not' | '!' ) <not> | <primary>
	<primary> := '(' <or> ')' | <operand> [ <op> <operand> ]
	<op>      := '==' | '!=' | '<' | '>' | '<=' | '>=' |
	             'contains' | 'startsWith' | 'endsWith' | 'matches'
	<operand> := 'string' | "string" | number | true | false | identifier

Identifiers name attributes and may contain dots, dashes, and underscores
(stats.max, dict.word). A missing attribute resolves to the empty string.

# Comparison

== and != compare as numbers when both sides parse as numbers, otherwise as
strings, so "stats.count == 4" holds for the attribute value "4.0".
Ordering operators require both sides to be numeric and are false otherwise.
The right side of matches must be a literal regular expression; it is
compiled with the condition.

# Truthiness

An operand on its own is true unless it is empty, "false", or "0".
*/
package expr
