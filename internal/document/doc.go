// Package document reads the YAML documents the command line and the
// scenario harness share: content fixtures and query object models.
//
// A fixture is a tree of nodes imported under a parent path:
//
//	namespaces:
//	  app: http://example.com/app
//	nodes:
//	  - name: docs
//	    type: nt:unstructured
//	    mixins: [mix:referenceable]
//	    properties:
//	      title: Welcome          # STRING
//	      tags: [a, b]            # multi-valued STRING
//	      size: {type: Long, value: "42"}
//	    children:
//	      - name: intro
//
// A query document spells out a query object model node by node:
//
//	source:
//	  selector: {type: nt:unstructured, name: s}
//	where:
//	  compare:
//	    operand: {property: {selector: s, name: title}}
//	    op: "="
//	    value: {bind: t}
//	columns:
//	  - {selector: s, property: title}
//	bind:
//	  t: Welcome
//
// Both decoders reject unknown fields so typos surface as errors.
package document
