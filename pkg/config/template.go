package config

// DefaultTemplate is written to .pitfilerc when the repository has none.
const DefaultTemplate = `# pitfile policy. Reload with SIGHUP after editing.
runtime:
  # Quarantine notifications go here.
  recipient: nobody@example.com
  # Bytes of the offending file quoted in a notification; 0 quotes all of it.
  excerpt_size: 10240

# Patterns are regular expressions searched anywhere in the path or content.
# Prefix a pattern with "glob:" to match the whole value with a glob instead.
# Lists are ordered and the first match wins. Precedence is path whitelist,
# path blacklist, content whitelist, content blacklist; anything else is kept.
filters:
  content:
    whitelist:
      - pattern: '^<\?php die\("Access Denied"\);'
    blacklist:
      - pattern: '<\?php'
        action: {kind: log, message: "php open tag"}
      - pattern: '<\?='
        action: {kind: log, message: "php short echo tag"}
      - pattern: '<%@'
        action: {kind: log, message: "server page directive"}
      - pattern: '<script[^>]+language=["'']?php'
        action: {kind: log, message: "php script block"}
  path:
    whitelist: []
    blacklist: []
`
