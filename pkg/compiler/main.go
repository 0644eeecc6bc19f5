// Package compiler translates ZLang, a line-oriented instruction language
// with significant indentation, into a standalone C translation unit.
//
// Pipeline: ZLang source → Lex → Optimize → Validate → Generate → C text
package compiler
