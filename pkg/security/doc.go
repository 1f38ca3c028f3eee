/*
Package security generates the trust material for a run.

Every run starts from a new CertAuthority. Its root certificate is what the
trust bootstrap imports into the application services, and the reverse proxy
serves a certificate issued by it:

	ca := security.NewCertAuthority("stackup", 0)
	if err := ca.Initialize(); err != nil {
		return err
	}
	proxyCert, err := ca.IssueServerCertificate("localhost", []string{"localhost"}, nil)

GenerateKeyPair produces the RSA key pair used for the mirror connection.
Nothing here is persisted beyond the working directory, which is rebuilt on
every run.
*/
package security
