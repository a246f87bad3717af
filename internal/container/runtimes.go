package container

import "fmt"

// RuntimeInfo contains information about a supported function runtime env.
type RuntimeInfo struct {
	Image         string
	InvocationCmd []string
}

// Directory where function code is copied inside the sandbox
const CodeDir = "/var/task/"

var RuntimeToInfo = map[string]RuntimeInfo{
	"python3.10": {"public.ecr.aws/lambda/python:3.10", []string{"/var/rapid/init"}},
	"python3.12": {"public.ecr.aws/lambda/python:3.12", []string{"/var/rapid/init"}},
	"nodejs18.x": {"public.ecr.aws/lambda/nodejs:18", []string{"/var/rapid/init"}},
	"nodejs20.x": {"public.ecr.aws/lambda/nodejs:20", []string{"/var/rapid/init"}},
	"java17":     {"public.ecr.aws/lambda/java:17", []string{"/var/rapid/init"}},
	"provided":   {"public.ecr.aws/lambda/provided:al2", []string{"/var/rapid/init"}},
}

func LookupRuntime(runtime string) (RuntimeInfo, error) {
	info, ok := RuntimeToInfo[runtime]
	if !ok {
		return RuntimeInfo{}, fmt.Errorf("unsupported runtime: %s", runtime)
	}
	return info, nil
}
