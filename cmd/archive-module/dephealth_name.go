// dephealth_name.go — имя вершины графа зависимостей по hostname пода.
package main

import (
	"os"
	"regexp"
)

var (
	// <deployment>-<pod-template-hash>-<suffix>
	deploymentPodRe = regexp.MustCompile(`^(.+)-[a-z0-9]{6,10}-[a-z0-9]{5}$`)
	// <statefulset>-<ordinal>
	statefulSetPodRe = regexp.MustCompile(`^(.+)-\d+$`)
)

// parseOwnerName извлекает имя владельца пода (Deployment или StatefulSet)
// из hostname. Если формат не распознан, возвращает hostname как есть.
func parseOwnerName(hostname string) string {
	if m := deploymentPodRe.FindStringSubmatch(hostname); m != nil {
		return m[1]
	}
	if m := statefulSetPodRe.FindStringSubmatch(hostname); m != nil {
		return m[1]
	}
	return hostname
}

// serviceID возвращает имя приложения для topologymetrics.
func serviceID() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "archive-module"
	}
	return parseOwnerName(hostname)
}
