package models

import "errors"

// ErrNoResult is returned by JobResult.Decode when the job carries no payload
var ErrNoResult = errors.New("job has no result")

// Recognized option keys. Any other key is forwarded to the service as-is.
const (
	OptionRenderJS    = "renderJs"
	OptionActions     = "actions"
	OptionCallbackURL = "callbackUrl"
)

// Action is one browser automation step, forwarded without local validation
type Action map[string]any

// Options configures a scraping request. A nil Options is sent as an empty object.
type Options map[string]any

// With returns a copy of o with key set to value
func (o Options) With(key string, value any) Options {
	out := make(Options, len(o)+1)
	for k, v := range o {
		out[k] = v
	}
	out[key] = value
	return out
}

// WithRenderJS selects a JavaScript-capable browser instead of a static fetch
func (o Options) WithRenderJS(render bool) Options {
	return o.With(OptionRenderJS, render)
}

func (o Options) WithActions(actions ...Action) Options {
	return o.With(OptionActions, actions)
}

// WithCallbackURL asks the service to POST the finished job to url
func (o Options) WithCallbackURL(url string) Options {
	return o.With(OptionCallbackURL, url)
}

// Payload returns the value to place in a request body
func (o Options) Payload() map[string]any {
	if o == nil {
		return map[string]any{}
	}
	return o
}
