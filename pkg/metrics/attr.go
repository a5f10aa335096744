package metrics

import "go.opentelemetry.io/otel/attribute"

func resultAttr(v string) attribute.KeyValue { return attribute.String("result", v) }
