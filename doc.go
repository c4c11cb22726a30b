/*Package mrp compiles declarative map/reduce/produce jobs into plans and runs
them reproducibly.

A job names an operator for each of three stages and lists the shards the map
stage runs over. Compiling a job derives a seed from its identity, orders the
shards by content digest (so caller-supplied order never matters) and writes
any inline operator source to a content-addressed unit. Executing the plan
runs the map stage in parallel, restores shard order, then runs reduce and
produce exactly once each. The run record is stored under the digest of its
canonical encoding, so an identical job always yields an identical record and
any run can be retrieved by digest.

Map work runs either in this process (the local backend) or in a fresh remote
sandbox per task (the cloud_sandbox backend). Reduce and produce always run
locally. Operators are registered in a Registry under references of the form
"<unit>:<entrypoint>":

	registry := mrp.NewRegistry()
	registry.RegisterAgent("toy:UppercaseAgent", mrp.AgentFunc(upper))
	registry.RegisterReducer("toy:ConcatReducer", mrp.ReducerFunc(concat))
	registry.RegisterProducer("toy:JsonProducer", mrp.ProducerFunc(passThrough))

	driver, err := mrp.NewDriver(registry)
	...
	driver.Main()

Source generated inline in a job description is executed by an interpreter
without any isolation beyond a separate process (or the remote sandbox).
Only run jobs from trusted authors.
*/
package mrp
