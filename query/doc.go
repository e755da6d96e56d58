// Package query answers student requests against the marking-scheme index.
//
// The Service type runs the online flow for one request:
//   - Validating the request (length bounds, injection denylist, subject and mode)
//   - Embedding the request text and searching the subject's chunks
//   - Assembling a bounded context block from the results
//   - Building a mode-specific prompt and calling the language model once
//   - Formatting the model output into an Answer
//
// Every stage transition is logged and can be observed through a Monitor.
// Failures are reported as ValidationError, RetrievalError or GenerationError.
package query
